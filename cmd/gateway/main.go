package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kataras/iris/v12"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/adapters"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/redis"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/logging"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/repository/mysql"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/server"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/service"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.IsProduction())
	defer func() { _ = zap.L().Sync() }()

	db := mysql.Init(&cfg.MySQL)
	redisClient := redis.Init(&cfg.Redis)
	broker, err := mq.Dial(&cfg.RabbitMQ)
	if err != nil {
		zap.L().Fatal("connect rabbitmq", zap.Error(err))
	}
	defer broker.Close()

	contactRepo := mysql.NewContactRepository(db)
	threadRepo := mysql.NewThreadRepository(db)
	messageRepo := mysql.NewMessageRepository(db)

	bus := service.NewRedisEventBus(redisClient)
	svc := service.NewMessageService(contactRepo, threadRepo, messageRepo, broker, bus)
	registry := adapters.NewRegistry(&cfg.Channels, cfg.IsProduction())
	hub := service.NewHub()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go hub.RunEventPump(ctx, cfg.Redis.Addr)

	app := iris.New()
	server.RegisterRoutes(app, &server.Deps{
		Cfg:      cfg,
		Svc:      svc,
		Adapters: registry,
		Queue:    broker,
		Redis:    redisClient,
		Hub:      hub,
	})

	addr := cfg.Server.Addr()
	zap.L().Info("gateway listening", zap.String("addr", addr))
	if err := app.Run(iris.Addr(addr)); err != nil {
		zap.L().Fatal("gateway run failed", zap.Error(err))
	}
}
