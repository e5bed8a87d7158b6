package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/pixel-place/pkg/board"
	"github.com/astromechza/pixel-place/pkg/config"
	"github.com/astromechza/pixel-place/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the relay to replicate from")
	boardVar := flag.String("board", "default", "the board to replicate")
	configVar := flag.String("config", "", "optional yaml config file")
	outVar := flag.String("out", "", "where to keep the replica, defaults to <board>.automerge")
	saveVar := flag.Duration("save-interval", time.Second*5, "how often to write the replica when it changed")
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	out := *outVar
	if out == "" {
		out = *boardVar + ".automerge"
	}
	baseUrl, err := url.Parse("http://" + *addrVar)
	if err != nil {
		return err
	}

	var doc *board.Doc
	if raw, err := os.ReadFile(out); err == nil {
		if doc, err = board.Load(raw, cfg.GridSize); err != nil {
			return err
		}
		slog.Info("resuming replica", "path", out)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read replica: %w", err)
	}

	m := relay.NewMirror(baseUrl, *boardVar, cfg.GridSize, doc, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()

	var last []byte
	save := func() {
		raw := m.Save()
		if raw == nil || bytes.Equal(raw, last) {
			return
		}
		if err := os.WriteFile(out, raw, 0o644); err != nil {
			slog.Error("failed to write replica", "err", err)
			return
		}
		last = raw
		slog.Info("wrote replica", "path", out, "bytes", len(raw))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(*saveVar)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				save()
			case <-ctx.Done():
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	save()
	return nil
}
