package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/pixel-place/pkg/board"
	"github.com/astromechza/pixel-place/pkg/config"
	"github.com/astromechza/pixel-place/pkg/relay"
	"github.com/astromechza/pixel-place/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	dbVar := flag.String("db", "place.sqlite3", "the sqlite database to back boards up to")
	configVar := flag.String("config", "", "optional yaml config file")
	boardsVar := flag.String("boards", "default", "comma separated boards to create if missing")
	auditVar := flag.String("audit-dir", "", "directory for compressed audit logs, disabled if empty")
	backupVar := flag.Duration("backup-interval", time.Second*5, "how often to back boards up")
	dumpVar := flag.Bool("dump", false, "dump each board and its history svg to the temp dir on shutdown")
	historyVar := flag.Int("history-limit", 200, "the most recent changes to include in history svgs")
	levelVar := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*levelVar)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}

	slog.Info("Opening database", "path", *dbVar)
	store, err := relay.OpenStore(*dbVar)
	if err != nil {
		return err
	}
	defer store.Close()

	var audit *relay.AuditLog
	if *auditVar != "" {
		audit = relay.NewAuditLog(*auditVar)
		defer audit.Close()
	}

	hub, err := relay.NewHub(relay.HubOptions{GridSize: cfg.GridSize, Store: store, Audit: audit})
	if err != nil {
		return err
	}
	if err := hub.Open(context.Background(), strings.Split(*boardsVar, ",")...); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.RunBackups(ctx, *backupVar)
	}()

	httpServer := &http.Server{Addr: *addrVar, Handler: relay.NewServer(hub).Handler()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar, "boards", hub.Boards())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	hub.BackupAll(context.Background())

	if *dumpVar {
		for _, id := range hub.Boards() {
			if err := hub.WithDoc(id, func(doc *board.Doc) error {
				return dump(id, doc, *historyVar)
			}); err != nil {
				slog.Error("failed to dump", "board", id, "err", err)
			}
		}
	}
	return nil
}

func dump(id string, doc *board.Doc, historyLimit int) error {
	tf := filepath.Join(os.TempDir(), id+".automerge")
	if err := os.WriteFile(tf, doc.Save(), 0o644); err != nil {
		return err
	}
	slog.Info("dumped", "board", id, "path", tf)
	svgPath, err := viz.RenderHistoryToTemp(doc.Automerge(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	slog.Info("rendered", "board", id, "path", "file://"+svgPath)
	return nil
}
