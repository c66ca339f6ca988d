/*
main.go - Application entry point

PURPOSE:
  Starts the leave-credit ledger server, or performs a single bulk run
  and exits.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, configs/server.env, environment)
  2. Build the JSON logger
  3. Open the SQLite store (migrations run on open)
  4. Create the ledger service and its worker pool
  5. Load POLICY_FILE into the store, if set
  6. Either run the one-shot flag, or serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config      Config file name under ./configs (default: server)
  -accrue      Run accrual (monthly|annual) and exit
  -as-of       Accrual date, YYYY-MM-DD (default: today)
  -carry-over  Run year-end carry-over for YEAR and exit

EXAMPLES:
  # Serve with an in-memory database
  DB_PATH=":memory:" ./server

  # Cron-style monthly accrual
  ./server -accrue=monthly

  # Close 2024
  ./server -carry-over=2024

SEE ALSO:
  - config/load.go: Configuration keys
  - api/server.go: Router configuration
*/
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
	"syscall"
	"time"

	"github.com/warp/leave-credits/api"
	"github.com/warp/leave-credits/config"
	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/logger"
	"github.com/warp/leave-credits/store/sqlite"
)

func main() {
	configName := flag.String("config", "server", "config file name under ./configs")
	accrue := flag.String("accrue", "", "run accrual (monthly|annual) and exit")
	asOf := flag.String("as-of", "", "accrual date YYYY-MM-DD (default: today)")
	carryOver := flag.Int("carry-over", 0, "run year-end carry-over for YEAR and exit")
	flag.Parse()

	cfg, err := config.Load(*configName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	if err := run(cfg, log, *accrue, *asOf, *carryOver); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, accrue, asOf string, carryOver int) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	service, err := leavecredit.NewService(store, log, cfg.WorkerPool.Size)
	if err != nil {
		return err
	}
	defer service.Close()

	handler := api.NewHandler(store, service, log)
	ctx := context.Background()

	if cfg.Policies.File != "" {
		if err := loadPolicyFile(ctx, handler.Runner, cfg.Policies.File); err != nil {
			return err
		}
		log.Info("policies loaded", "file", cfg.Policies.File)
	}

	switch {
	case accrue != "":
		return runAccrual(ctx, handler.Runner, accrue, asOf)
	case carryOver != 0:
		_, err := handler.Runner.CarryOver(ctx, carryOver)
		return err
	}

	return serve(cfg, log, handler)
}

func loadPolicyFile(ctx context.Context, runner *api.Runner, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	policies, err := runner.Factory.ParsePolicies(data)
	if err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return runner.SavePolicies(ctx, policies...)
}

func runAccrual(ctx context.Context, runner *api.Runner, freqName, asOf string) error {
	freq, err := leavecredit.ParseAccrualFrequency(freqName)
	if err != nil {
		return err
	}
	date := time.Now().UTC()
	if asOf != "" {
		if date, err = time.Parse("2006-01-02", asOf); err != nil {
			return fmt.Errorf("invalid -as-of: %w", err)
		}
	}
	_, err = runner.Accrue(ctx, freq, date)
	return err
}

func serve(cfg *config.Config, log *slog.Logger, handler *api.Handler) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.CORSAllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
