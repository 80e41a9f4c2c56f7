package main

import (
	"context"
	"flag"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/config"
	"github.com/kagari-lab/viewerqueue/internal/api"
	"github.com/kagari-lab/viewerqueue/internal/api/handler"
	"github.com/kagari-lab/viewerqueue/internal/model"
	"github.com/kagari-lab/viewerqueue/internal/repository"
	"github.com/kagari-lab/viewerqueue/internal/service"
	"github.com/kagari-lab/viewerqueue/internal/twitch"
	"github.com/kagari-lab/viewerqueue/pkg/cache"
	"github.com/kagari-lab/viewerqueue/pkg/database"
	"github.com/kagari-lab/viewerqueue/pkg/logger"
	"github.com/kagari-lab/viewerqueue/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			logger.Fatal("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg, "viewerqueue")
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(ctx)

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer database.Close(db)
	if err := db.AutoMigrate(
		&model.QueueItem{},
		&model.Participation{},
		&model.ProcessedMessage{},
		&model.OAuthToken{},
		&model.AppKV{},
	); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}

	rdb, err := cache.InitRedis(cfg)
	if err != nil {
		logger.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	queueRepo := repository.NewGormQueueRepository(db)
	dedupRepo := repository.NewGormDedupRepository(db)
	tokenRepo := repository.NewGormTokenRepository(db)

	helix := twitch.NewClient(cfg.Twitch)
	queueSvc := service.NewQueueService(queueRepo, cfg.Queue.ParticipationWindow)
	tokenSvc := service.NewTokenService(tokenRepo, helix)
	profileSvc := service.NewProfileService(rdb, helix, cfg.Twitch.ProfileTTL)
	admission := service.NewAdmission(dedupRepo, queueSvc, profileSvc, cfg.Twitch)

	// 会话协议客户端：单任务长循环
	eventsub := twitch.NewEventSub(helix, tokenSvc, tokenRepo, admission, cfg.Twitch)
	go eventsub.Run(ctx)

	// 去重台账保留期清理
	sweeper := service.NewRetentionSweeper(dedupRepo, cfg.Queue.LedgerTTL, cfg.Queue.SweepInterval)
	stopSweeper := sweeper.Start()
	defer stopSweeper()

	h := handler.New(cfg, queueSvc, tokenSvc, tokenRepo, helix)
	r := api.NewRouter(cfg, h)

	logger.Info("server starting", zap.String("bind", cfg.Server.Bind))
	if err := r.Run(cfg.Server.Bind); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
