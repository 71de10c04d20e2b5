package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/global-compliance/backend/internal/config"
	"github.com/zhouzirui/global-compliance/backend/internal/handler"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/history"
	"github.com/zhouzirui/global-compliance/backend/internal/service/live"
	"github.com/zhouzirui/global-compliance/backend/internal/service/report"
	"github.com/zhouzirui/global-compliance/backend/internal/share"
	"github.com/zhouzirui/global-compliance/backend/internal/store/kv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := logging.Init(cfg.Log.Level); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer logging.Sync()

	if envErr != nil {
		logging.Infow("no .env file loaded, continuing with system environment variables only", "error", envErr)
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize report service
	var chatModel model.BaseChatModel
	if cfg.AI.Enabled() {
		cm, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logging.Warnw("failed to initialise report model, continuing without analysis", "error", err)
		} else {
			chatModel = cm
			logging.Infow("report model initialised", "model", cfg.AI.Model)
		}
	} else {
		logging.Infow("Ark 凭证未配置，报告分析不可用")
	}
	reports, err := report.NewService(ctx, chatModel, report.Options{Timeout: cfg.AI.ReportTimeout.Duration})
	if err != nil {
		return fmt.Errorf("failed to initialise report service: %w", err)
	}

	codec := share.NewCodec()
	codec.MaxImageBytes = cfg.Share.MaxImageBytes
	codec.MaxTokenBytes = cfg.Share.MaxTokenBytes
	codec.TTL = cfg.Share.TTL.Duration

	// Initialize live advisor dialer
	var dialer advisor.Dialer
	if cfg.Live.Enabled() {
		dialer = live.NewClient(live.Config{
			APIKey:           cfg.Live.APIKey,
			URL:              cfg.Live.URL,
			Model:            cfg.Live.Model,
			HandshakeTimeout: cfg.Live.HandshakeTimeout.Duration,
		})
		logging.Infow("live advisor enabled", "model", cfg.Live.Model, "voice", cfg.Live.Voice)
	} else {
		logging.Infow("实时语音密钥未配置，跳过实时顾问")
	}

	router := handler.NewRouter(handler.Deps{
		Reports: reports,
		History: history.NewService(store),
		Share:   codec,
		Dialer:  dialer,
		Advisor: advisormodel.SessionConfig{
			Model:             cfg.Live.Model,
			Voice:             cfg.Live.Voice,
			SystemInstruction: cfg.Live.SystemInstruction,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Infow("compliance backend listening", "addr", cfg.Server.Addr)
	return runServer(ctx, srv)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (kv.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := kv.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history store: %w", err)
		}
		logging.Infow("history store opened", "driver", "sqlite", "path", cfg.Path)
		return store, func() {
			if err := store.Close(); err != nil {
				logging.Warnw("failed to close history store", "error", err)
			}
		}, nil
	default:
		logging.Infow("history store opened", "driver", "memory")
		return kv.NewMemoryStore(), func() {}, nil
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
