// Command voxprep-gateway runs the interview platform's HTTP gateway:
// question generation, interview storage, and feedback generation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voxprep/voxprep/internal/store"
	"github.com/voxprep/voxprep/pkg/feedback"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/handlers"
	gatewayserver "github.com/voxprep/voxprep/pkg/gateway/server"
	"github.com/voxprep/voxprep/pkg/llm"
	"github.com/voxprep/voxprep/pkg/llm/gemini"
	"github.com/voxprep/voxprep/pkg/llm/openai"
	"github.com/voxprep/voxprep/pkg/questions"
)

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func buildRegistry(cfg config.Config) *llm.Registry {
	registry := llm.NewRegistry()
	registry.Register(gemini.New(llm.APIKeyFor("gemini", cfg.ProviderKeys)))
	registry.Register(openai.New(llm.APIKeyFor("openai", cfg.ProviderKeys)))
	return registry
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		st handlers.Store
		db handlers.Pinger
	)
	if cfg.DatabaseURL != "" {
		pg, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer pg.Close()
		st = pg
		db = pg
		logger.Info("store ready", "persistence", "postgres")
	} else {
		st = store.NewMemory()
		logger.Warn("no VOXPREP_DATABASE_URL set; using in-memory store")
	}

	registry := buildRegistry(cfg)
	questionPipeline := questions.New(registry, cfg.QuestionModel,
		questions.WithAttempts(cfg.QuestionAttempts),
		questions.WithBaseDelay(cfg.QuestionBaseDelay),
		questions.WithTimeout(cfg.QuestionTimeout),
		questions.WithLogger(logger),
	)
	feedbackStore, _ := st.(feedback.Store)
	feedbackPipeline := feedback.New(registry, feedbackStore, cfg.FeedbackModel,
		feedback.WithMaxTokens(cfg.FeedbackMaxTokens),
		feedback.WithLogger(logger),
	)

	gw := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Store:     st,
		Questions: questionPipeline,
		Feedback:  feedbackPipeline,
		DB:        db,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "voxprep-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
