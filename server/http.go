package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medistream/config"
	"medistream/constant"
	"medistream/handler"
	"medistream/pkg/blob"
	"medistream/pkg/rabbitmq"
	"medistream/repository"
	"medistream/service"
	"medistream/store"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}

	publisher, err := rabbitmq.NewPublisher(conn, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewPublisher")
	}
	subscriber := rabbitmq.NewSubscriber(conn, cfg.Queue)

	repo := repository.NewRepo(cfg.DB)
	blobs := blob.NewStore(cfg.Storage, cfg.MinIOBucket, cfg.Stream.LocatorTTL)
	chunkStore := store.New(repo, publisher, subscriber)

	streams := handler.NewStreamManager(chunkStore, blobs, repo, service.RecorderOptions{
		ChunkDuration: cfg.Stream.ChunkDuration,
	})

	h := &handler.Handler{
		Repo:    repo,
		Store:   chunkStore,
		Blobs:   blobs,
		Streams: streams,
	}

	r := gin.Default()
	addHealth(r)
	handler.RegisterRoutes(r, h)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(zerolog.Ctx(ctx).WithContext(context.Background()), 15*time.Second)
	defer shutdownCancel()

	// Active recordings flush their buffered segments before the listener
	// goes away, so a stop-at-shutdown loses at most a never-emitted segment.
	streams.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
