package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/adapters"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/redis"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/logging"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/repository/mysql"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/service"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/worker"
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

	sender := worker.NewOutboundSender(
		&cfg.RabbitMQ,
		broker,
		adapters.NewRegistry(&cfg.Channels, cfg.IsProduction()),
		mysql.NewMessageRepository(db),
		service.NewRedisEventBus(redisClient),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	zap.L().Info("outbound worker started",
		zap.Int("maxAttempts", cfg.RabbitMQ.MaxAttempts))

	// 每个渠道队列一个消费循环，共享同一套重试/死信策略
	var wg sync.WaitGroup
	for _, ch := range channel.All() {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			broker.ConsumeLoop(ctx, mq.OutboundQueue(ch), func(d amqp.Delivery) {
				sender.Handle(ctx, ch, d)
			})
		}()
	}
	wg.Wait()
}
