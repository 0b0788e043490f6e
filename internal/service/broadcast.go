package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	radix "github.com/mediocregopher/radix/v3"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

// 事件类型：新消息带完整载荷，会话变更只是粗粒度失效信号，
// 前端收到后重新拉取会话列表。
const (
	EventNewMessage     = "new_message"
	EventThreadsUpdated = "threads_updated"
)

// eventsChannel worker 进程与网关进程之间的 Redis pub/sub 通道
const eventsChannel = "gateway:events"

// Event 实时事件
type Event struct {
	Type    string           `json:"type"`
	Message *message.Message `json:"message,omitempty"`
}

// EventPublisher 核心服务的广播出口。广播是尽力投递：
// 持久化状态才是权威，失败只记日志和计数。
type EventPublisher interface {
	PublishNewMessage(m *message.Message)
	PublishThreadsUpdated()
}

// RedisEventBus 通过 Redis pub/sub 发布事件，让 worker 进程里
// 产生的事件能到达挂在网关进程上的 websocket 订阅者。
type RedisEventBus struct {
	redis radix.Client
}

func NewRedisEventBus(redis radix.Client) *RedisEventBus {
	return &RedisEventBus{redis: redis}
}

func (b *RedisEventBus) publish(ev Event) {
	if b.redis == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("marshal event", zap.Error(err))
		return
	}
	if err := b.redis.Do(radix.FlatCmd(nil, "PUBLISH", eventsChannel, body)); err != nil {
		GetMonitor().RecordBroadcastError()
		zap.L().Warn("broadcast publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (b *RedisEventBus) PublishNewMessage(m *message.Message) {
	b.publish(Event{Type: EventNewMessage, Message: m})
}

func (b *RedisEventBus) PublishThreadsUpdated() {
	b.publish(Event{Type: EventThreadsUpdated})
}

// Hub websocket 扇出。无投递保证：断线的订阅者错过的事件
// 由它重连后调用列表接口补齐。
type Hub struct {
	mu       sync.RWMutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 鉴权在升级前由路由层完成，这里不再限制来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleUpgrade 升级连接并登记订阅者，连接关闭时自动注销
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	// 读循环只为感知断开，客户端不上行业务数据
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Broadcast 把事件原文发给所有订阅者，写失败的连接直接踢掉
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
		}
	}
}

// SubscriberCount 当前在线订阅数
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RunEventPump 订阅 Redis 事件通道并泵入 Hub，断线自动重连，
// ctx 取消后退出。
func (h *Hub) RunEventPump(ctx context.Context, redisAddr string) {
	for {
		if ctx.Err() != nil {
			return
		}
		ps, err := radix.PersistentPubSubWithOpts("tcp", redisAddr)
		if err != nil {
			zap.L().Warn("event pump connect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		msgCh := make(chan radix.PubSubMessage)
		if err := ps.Subscribe(msgCh, eventsChannel); err != nil {
			zap.L().Warn("event pump subscribe failed", zap.Error(err))
			_ = ps.Close()
			continue
		}

	pump:
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-msgCh:
				if !ok {
					break pump
				}
				h.Broadcast(msg.Message)
			}
		}
		_ = ps.Close()
		zap.L().Warn("event pump disconnected, reconnecting")
	}
}
