package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"asistencia/internal/config"
	"asistencia/internal/queue"
	"asistencia/internal/store"
)

// Audit worker: consumes check-in and override events and writes them to the
// structured log. Kept separate from the API so a slow sink never blocks a
// check-in.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.Env == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		if !redisClient.Healthy(ctx) {
			log.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("audit worker started", zap.String("backend", cfg.QueueBackend))
	for evt := range events {
		switch evt.Type {
		case "checkin":
			log.Info("check-in registrado",
				zap.String("sesion_id", evt.SessionID),
				zap.String("alumno_id", evt.StudentID),
				zap.String("estado", evt.Estado),
				zap.Time("at", evt.At))
		case "override":
			log.Info("override manual",
				zap.String("sesion_id", evt.SessionID),
				zap.String("alumno_id", evt.StudentID),
				zap.String("estado", evt.Estado),
				zap.String("actor", evt.Actor),
				zap.Time("at", evt.At))
		case "session_closed":
			log.Info("sesión cerrada",
				zap.String("sesion_id", evt.SessionID),
				zap.String("actor", evt.Actor),
				zap.Time("at", evt.At))
		default:
			log.Warn("evento desconocido", zap.String("type", evt.Type))
		}
	}

	log.Info("audit worker stopped")
}
