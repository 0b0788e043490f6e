package service

import (
	"sync"
	"time"
)

// Monitor 网关运行计数，用于排障和 /api/monitor 只读暴露
type Monitor struct {
	mu sync.RWMutex

	// 错误统计
	WebhookRejected int64
	MQErrors        int64
	DBErrors        int64
	BroadcastErrors int64

	// 流量统计
	WebhookReceived   int64
	InboundProcessed  int64
	InboundDuplicates int64
	OutboundSent      int64
	OutboundRetried   int64
	OutboundFailed    int64
	DeadLettered      int64

	// 时间统计
	LastWebhookAt  time.Time
	LastInboundAt  time.Time
	LastOutboundAt time.Time
	LastMQErrorAt  time.Time
	LastDBErrorAt  time.Time
}

var globalMonitor = &Monitor{}

// GetMonitor 获取全局监控实例
func GetMonitor() *Monitor {
	return globalMonitor
}

// RecordWebhook 记录一次 webhook 到达
func (m *Monitor) RecordWebhook() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookReceived++
	m.LastWebhookAt = time.Now()
}

// RecordWebhookRejected 记录一次验签拒绝
func (m *Monitor) RecordWebhookRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookRejected++
}

// RecordMQError 记录 MQ 错误
func (m *Monitor) RecordMQError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MQErrors++
	m.LastMQErrorAt = time.Now()
}

// RecordDBError 记录数据库错误
func (m *Monitor) RecordDBError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DBErrors++
	m.LastDBErrorAt = time.Now()
}

// RecordBroadcastError 记录广播失败（尽力投递，只计数不阻塞）
func (m *Monitor) RecordBroadcastError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BroadcastErrors++
}

// RecordInboundProcessed 记录一条入站消息完成持久化
func (m *Monitor) RecordInboundProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InboundProcessed++
	m.LastInboundAt = time.Now()
}

// RecordInboundDuplicate 记录一次幂等去重命中
func (m *Monitor) RecordInboundDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InboundDuplicates++
}

// RecordOutboundSent 记录一次出站投递成功
func (m *Monitor) RecordOutboundSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutboundSent++
	m.LastOutboundAt = time.Now()
}

// RecordOutboundRetried 记录一次出站重投
func (m *Monitor) RecordOutboundRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutboundRetried++
}

// RecordOutboundFailed 记录一次出站最终失败
func (m *Monitor) RecordOutboundFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutboundFailed++
}

// RecordDeadLettered 记录一条消息进入死信队列
func (m *Monitor) RecordDeadLettered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeadLettered++
}

// MonitorStats Monitor 的只读副本，不带锁，可安全传递/序列化
type MonitorStats struct {
	WebhookRejected int64
	MQErrors        int64
	DBErrors        int64
	BroadcastErrors int64

	WebhookReceived   int64
	InboundProcessed  int64
	InboundDuplicates int64
	OutboundSent      int64
	OutboundRetried   int64
	OutboundFailed    int64
	DeadLettered      int64

	LastWebhookAt  time.Time
	LastInboundAt  time.Time
	LastOutboundAt time.Time
	LastMQErrorAt  time.Time
	LastDBErrorAt  time.Time
}

// Snapshot 返回计数副本，供 API 暴露
func (m *Monitor) Snapshot() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MonitorStats{
		WebhookRejected:   m.WebhookRejected,
		MQErrors:          m.MQErrors,
		DBErrors:          m.DBErrors,
		BroadcastErrors:   m.BroadcastErrors,
		WebhookReceived:   m.WebhookReceived,
		InboundProcessed:  m.InboundProcessed,
		InboundDuplicates: m.InboundDuplicates,
		OutboundSent:      m.OutboundSent,
		OutboundRetried:   m.OutboundRetried,
		OutboundFailed:    m.OutboundFailed,
		DeadLettered:      m.DeadLettered,
		LastWebhookAt:     m.LastWebhookAt,
		LastInboundAt:     m.LastInboundAt,
		LastOutboundAt:    m.LastOutboundAt,
		LastMQErrorAt:     m.LastMQErrorAt,
		LastDBErrorAt:     m.LastDBErrorAt,
	}
}
