package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/astromechza/pixel-place/pkg/config"
	"github.com/astromechza/pixel-place/pkg/render"
	"github.com/astromechza/pixel-place/pkg/session"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the address to connect to")
	boardVar := flag.String("board", "default", "the board to join")
	configVar := flag.String("config", "", "optional yaml config file")
	scriptVar := flag.String("script", "-", "gesture script to play, - for stdin")
	outVar := flag.String("out", "frame.png", "where to write the latest frame")
	frameVar := flag.Duration("frame-interval", time.Second, "how often to write the frame when it changed")
	stayVar := flag.Bool("stay", false, "keep running after the script finishes")
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
	steps, err := readScript(*scriptVar)
	if err != nil {
		return err
	}

	u := &url.URL{Scheme: "ws", Host: *addrVar}
	u = u.JoinPath("boards", *boardVar, "ws")

	dirty := new(atomic.Bool)
	s, err := session.New(cfg, session.WithFrameHook(func(st render.Stats) {
		dirty.Store(true)
		slog.Debug("rendered", "visible", st.Visible, "drawn", st.Drawn)
	}))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		connectAndServeContinuously(ctx, s, u.String())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		writeFramesContinuously(ctx, s, dirty, *outVar, *frameVar)
	}()

	scriptDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(scriptDone)
		if err := play(ctx, s, steps); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("script failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-scriptDone:
		if *stayVar {
			sig := <-exit
			slog.Info("Signal caught", "sig", sig)
		} else {
			slog.Info("script finished")
			flushFrame(ctx, s, *outVar)
		}
	}
	cancel()
	wg.Wait()
	return nil
}

func readScript(path string) ([]session.Step, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open script: %w", err)
		}
		defer f.Close()
		r = f
	}
	return session.ParseScript(r)
}

func connectAndServeContinuously(ctx context.Context, s *session.Session, url string) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := connectAndServe(ctx, s, url); err != nil && ctx.Err() == nil {
			slog.Error("connection ended", "err", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			slog.Info("stopping connection loop")
			return
		}
	}
}

func connectAndServe(ctx context.Context, s *session.Session, url string) error {
	conn, err := session.Dial(ctx, url)
	if err != nil {
		return err
	}
	slog.Info("connected", "url", url)
	return s.Serve(ctx, conn)
}

// play posts the script's events in order. Events wait in the session queue while disconnected.
func play(ctx context.Context, s *session.Session, steps []session.Step) error {
	for _, step := range steps {
		if step.Wait > 0 {
			t := time.NewTimer(step.Wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			continue
		}
		if err := s.Post(ctx, step.Event); err != nil {
			return err
		}
		slog.Debug("posted", "line", step.Line, "event", fmt.Sprintf("%T", step.Event))
	}
	return nil
}

func writeFramesContinuously(ctx context.Context, s *session.Session, dirty *atomic.Bool, path string, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if dirty.Swap(false) {
				if err := s.Post(ctx, session.SaveFrame{Path: path}); err != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// flushFrame waits for everything queued so far to be applied and then writes the frame.
func flushFrame(ctx context.Context, s *session.Session, path string) {
	done := make(chan error, 1)
	if err := s.Post(ctx, session.SaveFrame{Path: path, Done: done}); err != nil {
		return
	}
	select {
	case err := <-done:
		if err != nil {
			slog.Error("failed to write frame", "err", err)
		} else {
			slog.Info("wrote frame", "path", path)
		}
	case <-time.After(5 * time.Second):
		slog.Warn("timed out waiting for the final frame; is the server reachable?")
	}
}
