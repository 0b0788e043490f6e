package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
)

// 队列拓扑：一个入站扇入队列，每渠道一个出站队列，
// 一个旁观者出站队列，一个死信队列。
const (
	InboundQueue     = "message.in"
	OutboundFanQueue = "message.out"
	DeadLetterQueue  = "message.dead"

	// attemptsHeader 出站投递的尝试次数记账
	attemptsHeader = "x-attempts"
)

// OutboundQueue 渠道专属出站队列名
func OutboundQueue(ch channel.Channel) string {
	return OutboundFanQueue + "." + ch.String()
}

// Broker RabbitMQ 客户端。实例通过构造注入各使用方，
// 连接断开后在下一次操作时重拨，不依赖全局变量。
type Broker struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

// Dial 建立 Broker 连接
func Dial(cfg *config.RabbitMQConfig) (*Broker, error) {
	b := &Broker{url: cfg.URL}
	if _, err := b.connection(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connection() (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	b.conn = conn
	return conn, nil
}

// Close 关闭底层连接
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

// Publish 向队列投递持久化消息
func (b *Broker) Publish(ctx context.Context, queue string, body []byte) error {
	return b.PublishWithAttempts(ctx, queue, body, 0)
}

// PublishWithAttempts 带尝试次数头投递，出站重试链路使用
func (b *Broker) PublishWithAttempts(ctx context.Context, queue string, body []byte, attempts int) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareQueue(ch, queue); err != nil {
		return err
	}
	return ch.PublishWithContext(
		ctx,
		"",
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{attemptsHeader: int32(attempts)},
			Body:         body,
		},
	)
}

// Consume 以手动确认模式消费队列。返回的通道在连接断开时关闭，
// 调用方循环重新 Consume 即可（见各 worker 的消费循环）。
func (b *Broker) Consume(queue string) (<-chan amqp.Delivery, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareQueue(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	// 手动确认模式（auto-ack=false），处理成功才 Ack
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return msgs, nil
}

// ConsumeLoop 带重连监督的消费循环：handle 每条消息被调用一次，
// 消费通道关闭后按固定间隔重拨，直到 ctx 取消。
func (b *Broker) ConsumeLoop(ctx context.Context, queue string, handle func(amqp.Delivery)) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := b.Consume(queue)
		if err != nil {
			zap.L().Warn("consume failed, retrying",
				zap.String("queue", queue), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for d := range msgs {
			handle(d)
		}
		zap.L().Warn("delivery channel closed, reconnecting", zap.String("queue", queue))
	}
}

// Attempts 读取投递的尝试次数头，缺失时视为 0
func Attempts(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
