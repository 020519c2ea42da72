package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alouette-a11y/alouette/internal/app"
	"github.com/alouette-a11y/alouette/internal/cli"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "alouette: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := app.LoadConfig(args.ConfigPath, args.EnvFiles...)
	if err != nil {
		return err
	}
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}

	logger := logging.NewWriterLogger(os.Stderr, "alouette", logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.BuildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := app.NewApplication(cfg, args, logger, deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown", logging.Err(err))
		}
	}()

	switch args.Command {
	case cli.CmdServe:
		return serve(ctx, a)
	case cli.CmdWorker:
		if err := a.StartWorkers(); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	case cli.CmdScan:
		return scan(ctx, a)
	}
	return cli.ErrUsage
}

func serve(ctx context.Context, a *app.Application) error {
	if !a.Args.NoWorkers {
		if err := a.StartWorkers(); err != nil {
			return err
		}
	}

	srv := server.NewServer(a.Config.Server, a.Orch, a.Logger).HTTPServer()
	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("listening", logging.Field{Key: "addr", Value: srv.Addr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scan runs a free scan of the target and prints it. With an email it then
// queues the full audit and waits for the workers to deliver it.
func scan(ctx context.Context, a *app.Application) error {
	res, err := a.Orch.RunQuickScan(ctx, a.Args.Target, app.MatchLanguage(os.Getenv("LANG")))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if a.Args.Email == "" {
		return nil
	}

	events, unsubscribe := a.Orch.Events().Subscribe(res.ScanID)
	defer unsubscribe()

	if _, err := a.Orch.RequestFullReport(ctx, res.ScanID, a.Args.Email); err != nil {
		return err
	}
	if err := a.StartWorkers(); err != nil {
		return err
	}

	for {
		select {
		case ev := <-events:
			switch {
			case ev.Type == app.JobEventStage:
				a.Logger.Info("full report progress", logging.Field{Key: "stage", Value: ev.Stage})
			case ev.Status == model.ScanDelivered:
				fmt.Fprintf(os.Stdout, "report sent to %s\n", a.Args.Email)
				return nil
			case ev.Status == model.ScanFailed:
				return fmt.Errorf("full report failed: %s", ev.Error)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
