package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"coursetalk/internal/config"
	"coursetalk/internal/db"
	"coursetalk/internal/router"
	"coursetalk/internal/routing"
	"coursetalk/internal/services"
	"coursetalk/internal/store/document"
	"coursetalk/internal/store/relational"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open relational database")
	}

	ctx := context.Background()
	sdb, err := document.Connect(ctx, cfg.DocumentURL, cfg.DocumentNamespace, cfg.DocumentDatabase, cfg.DocumentUser, cfg.DocumentPass)
	if err != nil {
		log.Fatal().Err(err).Msg("connect document database")
	}

	docBackend := document.New(sdb)
	relBackend := relational.New(gdb)
	resolver, err := routing.NewResolver(gdb, docBackend, relBackend)
	if err != nil {
		log.Fatal().Err(err).Msg("init backend resolver")
	}

	forum := services.NewForum(resolver, log)

	// 关系库上的计数核对任务。文档库那边迁移完就清空，不单独跑。
	reconciler := services.NewReconciler(relBackend, log)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		log.Fatal().Err(err).Msg("start reconciler")
	}
	defer reconciler.Stop()

	r := gin.Default()
	router.RegisterRoutes(r, forum)

	log.Info().Str("addr", cfg.ListenAddr).Msg("coursetalk server starting")
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
