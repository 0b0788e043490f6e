package mq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
)

func TestOutboundQueueNaming(t *testing.T) {
	assert.Equal(t, "message.out.whatsapp", OutboundQueue(channel.WhatsApp))
	assert.Equal(t, "message.out.sms", OutboundQueue(channel.SMS))
	// 旁观者队列不是任何渠道队列的前缀碰撞
	for _, ch := range channel.All() {
		assert.NotEqual(t, OutboundFanQueue, OutboundQueue(ch))
	}
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, 0, Attempts(amqp.Delivery{}))
	assert.Equal(t, 0, Attempts(amqp.Delivery{Headers: amqp.Table{}}))
	assert.Equal(t, 3, Attempts(amqp.Delivery{Headers: amqp.Table{attemptsHeader: int32(3)}}))
	// broker 往返后头的数值类型可能变宽
	assert.Equal(t, 4, Attempts(amqp.Delivery{Headers: amqp.Table{attemptsHeader: int64(4)}}))
	assert.Equal(t, 0, Attempts(amqp.Delivery{Headers: amqp.Table{attemptsHeader: "3"}}))
}
