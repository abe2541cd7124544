package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/loomui/loom/pkg/decl"
	"github.com/loomui/loom/pkg/fault"
	"github.com/loomui/loom/pkg/live"
	"github.com/loomui/loom/pkg/reactive"
	"github.com/loomui/loom/pkg/snapshot"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		logLevel  string
		snapshots bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live demo server",
		Long: `Run a live server with the built-in demo tree.

Endpoints:
  /live            WebSocket session endpoint
  /healthz         Health and session count
  /metrics         Prometheus metrics
  /snapshot/{key}  Persisted session snapshots

Examples:
  loom serve
  loom serve --addr=:9000 --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, logLevel, snapshots)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&snapshots, "snapshots", true, "Persist session snapshots in memory")

	return cmd
}

func runServe(addr, logLevel string, snapshots bool) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []live.ServerOption{live.WithLogger(logger)}
	if snapshots {
		opts = append(opts, live.WithSnapshots(snapshot.NewMemStore()))
	}
	srv := live.NewServer(demoRoot, opts...)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	return httpSrv.Shutdown(ctx)
}

// demoRoot is the built-in demo: a clickable counter plus a deferred panel
// behind a suspense boundary, wrapped in an error boundary.
func demoRoot(store reactive.Store) *decl.Node {
	counter := decl.Component("counter", func(rc decl.RenderContext) decl.Output {
		n, _ := rc.Get("count").(int)
		return decl.Element("div", decl.Props{"class": "counter"},
			decl.Element("button", decl.Props{
				"onclick": decl.EventHandler(func(any) error {
					cur, _ := store.Get("count").(int)
					store.Set("count", cur+1)
					return nil
				}),
			}, decl.Text("+1")),
			decl.Element("output", nil, decl.Text(strconv.Itoa(n))),
		)
	}, nil)

	slowPanel := decl.Component("slow-panel", func(rc decl.RenderContext) decl.Output {
		return decl.Defer(func(ctx context.Context) (*decl.Node, error) {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return decl.Element("section", decl.Props{"class": "panel"},
				decl.Text("deferred content loaded"),
			), nil
		})
	}, nil)

	return decl.Element("main", decl.Props{"class": "demo"},
		decl.Boundary(func(f fault.Failure) *decl.Node {
			return decl.Element("div", decl.Props{"class": "error"},
				decl.Text("something went wrong: "+f.Kind.String()),
			)
		},
			counter,
			decl.Suspense(100*time.Millisecond,
				decl.Element("div", decl.Props{"class": "spinner"}, decl.Text("loading...")),
				slowPanel,
			),
		),
	)
}
