package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/utilities"
)

func main() {
	// best-effort: without a .env file the real environment is used
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-user-cancellation")

	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, db, nil, sugar)
	if err != nil {
		sugar.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		app.Processor.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	select {
	case <-workerDone:
	case <-doneCtx.Done():
		sugar.Warn("deletion worker did not stop in time")
	}

	sugar.Info("goodbye")
}
