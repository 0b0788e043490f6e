package worker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/adapters"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/service"
)

// RetryPublisher 重试/死信链路需要的最小发布接口
type RetryPublisher interface {
	PublishWithAttempts(ctx context.Context, queue string, body []byte, attempts int) error
}

// OutboundSender 出站投递器：消费渠道队列，驱动 adapter 发送，
// 承担重试与死信策略。每条投递至少尝试一次，耗尽重试或被平台
// 明确拒绝后进死信队列并把消息落为 failed，绝不静默丢失。
type OutboundSender struct {
	cfg       *config.RabbitMQConfig
	publisher RetryPublisher
	registry  adapters.Registry
	messages  message.Repository
	bus       service.EventPublisher
}

func NewOutboundSender(
	cfg *config.RabbitMQConfig,
	publisher RetryPublisher,
	registry adapters.Registry,
	messages message.Repository,
	bus service.EventPublisher,
) *OutboundSender {
	return &OutboundSender{
		cfg:       cfg,
		publisher: publisher,
		registry:  registry,
		messages:  messages,
		bus:       bus,
	}
}

// Handle 处理一条出站投递。确认语义：
//   - 发送成功 → 落 delivered + Ack
//   - 瞬时失败 → 带计数重新入队成功后 Ack，入队失败 Nack 回原队列
//   - 永久失败 / 耗尽重试 → 死信 + 落 failed + Ack
//   - 载荷损坏 → Nack 丢弃
func (s *OutboundSender) Handle(ctx context.Context, ch channel.Channel, d amqp.Delivery) {
	var env message.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		zap.L().Warn("invalid outbound envelope", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	adapter, err := s.registry.Get(ch)
	if err != nil {
		zap.L().Error("no adapter for queue", zap.String("channel", ch.String()))
		_ = d.Nack(false, false)
		return
	}

	err = adapter.Send(ctx, &env)
	if err == nil {
		service.GetMonitor().RecordOutboundSent()
		s.settle(ctx, &env, message.StatusDelivered)
		_ = d.Ack(false)
		return
	}

	attempts := mq.Attempts(d) + 1
	if adapters.IsPermanent(err) || attempts >= s.cfg.MaxAttempts {
		s.deadLetter(ctx, &env, d, attempts, err)
		return
	}

	// 瞬时失败：退避后带计数重新入队，再确认原投递
	service.GetMonitor().RecordOutboundRetried()
	zap.L().Warn("outbound send failed, retrying",
		zap.String("channel", ch.String()),
		zap.String("messageId", env.MessageID),
		zap.Int("attempt", attempts),
		zap.Error(err))

	backoff := time.Duration(attempts) * s.cfg.RetryBackoff
	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	case <-time.After(backoff):
	}
	if pubErr := s.publisher.PublishWithAttempts(ctx, mq.OutboundQueue(ch), d.Body, attempts); pubErr != nil {
		service.GetMonitor().RecordMQError()
		// 重新入队失败就把原投递退回队列，宁可多投不可丢失
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// deadLetter 耗尽重试或平台明确拒绝：进死信队列并把消息落为 failed。
// 失败的发送在会话里以 failed 状态可见，不是静默消失。
func (s *OutboundSender) deadLetter(ctx context.Context, env *message.Envelope, d amqp.Delivery, attempts int, cause error) {
	zap.L().Error("outbound send dead-lettered",
		zap.String("channel", env.Channel.String()),
		zap.String("messageId", env.MessageID),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	if err := s.publisher.PublishWithAttempts(ctx, mq.DeadLetterQueue, d.Body, attempts); err != nil {
		service.GetMonitor().RecordMQError()
		// 死信都写不进去就让原消息回队列，等 broker 恢复
		_ = d.Nack(false, true)
		return
	}
	service.GetMonitor().RecordOutboundFailed()
	service.GetMonitor().RecordDeadLettered()
	s.settle(ctx, env, message.StatusFailed)
	_ = d.Ack(false)
}

// settle 回写投递状态并广播会话变更
func (s *OutboundSender) settle(ctx context.Context, env *message.Envelope, status string) {
	if env.MessageID == "" {
		return
	}
	if err := s.messages.UpdateStatus(ctx, env.MessageID, status); err != nil {
		service.GetMonitor().RecordDBError()
		zap.L().Error("update delivery status failed",
			zap.String("messageId", env.MessageID),
			zap.String("status", status),
			zap.Error(err))
		return
	}
	s.bus.PublishThreadsUpdated()
}
