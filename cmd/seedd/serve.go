package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seedrun/seed/api"
	"github.com/seedrun/seed/config"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/telemetry"
)

func serveCmd() *cobra.Command {
	var lockPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kernel's HTTP/WebSocket API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(resolveConfigPath(), lockPath)
		},
	}
	cmd.Flags().StringVar(&lockPath, "lock-file", "seedd.lock.json", "path to write the {pid,port,token,startedAt} discovery file")
	return cmd
}

func runServe(cfgPath, lockPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := slog.LevelInfo
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build event store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proj, err := taskproj.NewProjector(ctx, store)
	if err != nil {
		return fmt.Errorf("build task projector: %w", err)
	}
	defer proj.Close()

	tel := telemetry.Noop()

	parts, err := buildComponents(cfg, store, proj, tel)
	if err != nil {
		return fmt.Errorf("wire kernel components: %w", err)
	}
	defer parts.runtime.Close()

	srv := api.New(&cfg.Server, store, proj, parts.conv, uipService(store, proj), parts.auditLog, parts.runtime, parts.knownFunc, tel)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port

	if lockPath != "" {
		if err := writeLockFile(lockPath, actualPort, cfg.Server.Token); err != nil {
			slog.Warn("failed to write lock file", "path", lockPath, "error", err)
		} else {
			defer removeLockFile(lockPath)
		}
	}

	httpSrv := &http.Server{Handler: srv.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("seedd listening", "addr", ln.Addr().String(), "storage", cfg.Storage.Driver, "llm_provider", cfg.LLM.Provider)
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
