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

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catchup/internal/api"
	"catchup/internal/bot"
	"catchup/internal/config"
	"catchup/internal/delivery"
	"catchup/internal/extract"
	"catchup/internal/logger"
	"catchup/internal/redis"
	"catchup/internal/roster"
	"catchup/internal/service/ai"
	"catchup/internal/tunnel"
	"catchup/internal/uploads"
	"catchup/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfgPath  string
		noTunnel bool
	)
	cmd := &cobra.Command{
		Use:          "catchup",
		Short:        "Summarize missed lessons into revision notes and DM them to students",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath, noTunnel)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", os.Getenv("CATCHUP_CONFIG"), "path to a JSON config file")
	cmd.Flags().BoolVar(&noTunnel, "no-tunnel", false, "serve locally without opening an ngrok endpoint")
	return cmd
}

func run(parent context.Context, cfgPath string, noTunnel bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Options{
		FilePath:   cfg.Log.FilePath,
		Production: cfg.IsProduction(),
		Debug:      cfg.Log.Debug,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	basic := cfg.BasicConfig
	summarizer, err := ai.NewSummarizer(ctx, basic.Provider, cfg.Providers[basic.Provider], log.Named("ai"))
	if err != nil {
		log.Error("init summarizer", zap.Error(err))
		return err
	}
	extractor, err := extract.New(ctx, extract.OCRConfig{
		Tesseract:   cfg.OCR.Tesseract,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
	}, log.Named("extract"))
	if err != nil {
		log.Error("init extractor", zap.Error(err))
		return err
	}
	uploadStore, err := uploads.NewStore(basic.FileBaseDir, uploads.Retention(basic.UploadRetention),
		time.Duration(basic.TempFileTTL)*time.Minute, log.Named("uploads"))
	if err != nil {
		log.Error("init upload store", zap.Error(err))
		return err
	}

	log.Info("upload store ready",
		zap.String("dir", uploadStore.Dir()),
		zap.String("retention", basic.UploadRetention),
	)

	statuses, closeStatuses, err := newStatusStore(cfg)
	if err != nil {
		log.Error("init delivery status store", zap.Error(err))
		return err
	}
	defer closeStatuses()

	members := roster.NewStore()
	chatBot := bot.New(cfg.Discord.GuildID, members, log.Named("bot"))
	if err := chatBot.Open(cfg.Discord.Token); err != nil {
		log.Error("start discord bot", zap.Error(err))
		return err
	}
	defer chatBot.Close()

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        basic.MinWorkers,
		MaxWorkers:        basic.MaxWorkers,
		QueueSize:         basic.QueueSize,
		WorkerIdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Minute,
		DeliveryTimeout:   time.Duration(basic.DeliveryTimeoutSeconds) * time.Second,
	}, chatBot, statuses, log.Named("worker"))
	defer dispatcher.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.NewHandler(api.Deps{
		Extractor:      extractor,
		Summarizer:     summarizer,
		Dispatcher:     dispatcher,
		Roster:         members,
		Uploads:        uploadStore,
		Statuses:       statuses,
		Logger:         log.Named("api"),
		SummaryTimeout: time.Duration(basic.SummaryTimeoutSeconds) * time.Second,
	}).RegisterRoutes(router)

	g, gctx := errgroup.WithContext(ctx)

	if uploads.Retention(basic.UploadRetention) == uploads.RetainKeep {
		uploadStore.StartCleaner(gctx, time.Duration(basic.TempCleanInterval)*time.Minute)
	}

	srv := &http.Server{Addr: basic.ServerAddress, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", basic.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if noTunnel || cfg.Tunnel.Disabled || cfg.Tunnel.AuthToken == "" {
		log.Info("ngrok tunnel disabled")
	} else {
		tun := tunnel.New(cfg.Tunnel.AuthToken, router, log.Named("tunnel"))
		g.Go(func() error {
			// The local server keeps running when the tunnel cannot be opened.
			if err := tun.Run(gctx, printPublicURL); err != nil {
				log.Error("ngrok tunnel stopped", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func newStatusStore(cfg *config.Config) (delivery.Store, func(), error) {
	if !redis.Enabled(cfg) {
		return delivery.NewMemoryStore(delivery.DefaultStatusTTL), func() {}, nil
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return delivery.NewRedisStore(client, delivery.DefaultStatusTTL), func() { _ = client.Close() }, nil
}

func printPublicURL(url string) {
	color.New(color.FgGreen, color.Bold).Printf("[INFO] ngrok tunnel available at: %s\n", url)
}
