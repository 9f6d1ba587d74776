package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kpuvote/kpu-vote/auth"
	"github.com/kpuvote/kpu-vote/chat"
	"github.com/kpuvote/kpu-vote/cliparse"
	"github.com/kpuvote/kpu-vote/db"
	"github.com/kpuvote/kpu-vote/events"
	"github.com/kpuvote/kpu-vote/gateway"
	"github.com/kpuvote/kpu-vote/metrics"
	"github.com/kpuvote/kpu-vote/middleware"
	"github.com/kpuvote/kpu-vote/realtime"
	"github.com/kpuvote/kpu-vote/router"
	"github.com/kpuvote/kpu-vote/storage"
	"github.com/kpuvote/kpu-vote/tally"
)

func main() {
	cliparse.LoadDotEnv(".env")

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn, cfg.DatabaseType); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	// Realtime fan-out: Redis across instances, in-process otherwise
	var broker realtime.Broker
	if cfg.RedisAddr != "" {
		rdb, err := realtime.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		broker = realtime.NewRedisBroker(rdb, nil)
		slog.Info("Realtime via redis", "addr", cfg.RedisAddr)
	} else {
		broker = realtime.NewHub(nil)
		slog.Info("Realtime via in-process hub")
	}
	defer broker.Close()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		slog.Info("Publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	m := metrics.New()
	gw := gateway.New(gateway.NewSQLStore(dbConn, cfg.DatabaseType), broker)
	rec := tally.New(gw.SQLStore, tally.WithMetrics(m), tally.WithEvents(publisher))

	streamOpts := []chat.Option{
		chat.WithMetrics(m),
		chat.WithEvents(publisher),
		chat.WithHistoryLimit(cfg.HistoryLimit),
	}
	var uploader chat.Uploader
	if cfg.S3Endpoint != "" {
		bucket, err := storage.New(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			slog.Error("object storage setup failed", "error", err)
			os.Exit(1)
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			slog.Error("object storage bucket unavailable", "bucket", cfg.S3Bucket, "error", err)
			os.Exit(1)
		}
		uploader = bucket
		streamOpts = append(streamOpts, chat.WithUploader(bucket))
		slog.Info("File sharing enabled", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	}

	handler := router.NewRouter(router.Deps{
		Gateway:      gw,
		Tally:        rec,
		Poster:       chat.NewPoster(gw, uploader, m, publisher),
		Verifier:     auth.NewJWTVerifier(cfg.JWTSecret),
		Metrics:      m,
		Limiter:      middleware.NewLimiterPool(cfg.SendRPS, cfg.SendBurst),
		StreamOpts:   streamOpts,
		HistoryLimit: cfg.HistoryLimit,
	})

	server := http.Server{
		Handler:           handler,
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("graceful shutdown failed", "error", err)
			server.Close()
		}
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port)
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server closed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("Server closed")
}

func newLogger(cfg cliparse.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
