package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/redis"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/logging"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/repository/mysql"
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	zap.L().Info("inbound worker started, waiting for envelopes")
	broker.ConsumeLoop(ctx, mq.InboundQueue, func(d amqp.Delivery) {
		handleDelivery(ctx, svc, d)
	})
}

func handleDelivery(ctx context.Context, svc *service.MessageService, d amqp.Delivery) {
	var env message.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		zap.L().Warn("invalid inbound envelope", zap.Error(err))
		// 载荷格式错误，重投也没救，拒绝并丢弃
		_ = d.Nack(false, false)
		return
	}

	if err := svc.ProcessIncoming(ctx, &env); err != nil {
		if errors.Is(err, service.ErrValidation) {
			zap.L().Warn("malformed envelope dropped",
				zap.String("channel", env.Channel.String()),
				zap.Error(err))
			_ = d.Nack(false, false)
			return
		}
		// 存储不可用：不确认，让 broker 重投，幂等写入保证不会重复落库
		zap.L().Error("process incoming failed, requeueing",
			zap.String("channel", env.Channel.String()),
			zap.String("externalId", env.ExternalID),
			zap.Error(err))
		_ = d.Nack(false, true)
		return
	}

	if err := d.Ack(false); err != nil {
		zap.L().Error("failed to ack delivery", zap.Error(err))
	}
}
