package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/contact"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/thread"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
)

// QueuePublisher broker 发布出口，核心服务只依赖这个最小接口
type QueuePublisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// MessageService 核心消息服务：三个实体的唯一写入方。
// adapter 不碰存储，只产出/消费队列消息。
type MessageService struct {
	contacts contact.Repository
	threads  thread.Repository
	messages message.Repository
	queue    QueuePublisher
	events   EventPublisher
}

func NewMessageService(
	contacts contact.Repository,
	threads thread.Repository,
	messages message.Repository,
	queue QueuePublisher,
	events EventPublisher,
) *MessageService {
	return &MessageService{
		contacts: contacts,
		threads:  threads,
		messages: messages,
		queue:    queue,
		events:   events,
	}
}

// ThreadView 会话列表条目：会话 + 联系人摘要
type ThreadView struct {
	*thread.Thread
	Contact *contact.Contact `json:"contact,omitempty"`
}

func typeForChannel(ch channel.Channel) string {
	switch ch {
	case channel.Outlook:
		return message.TypeEmail
	case channel.Typebot:
		return message.TypeBot
	}
	return message.TypeText
}

// resolveContact 按 (handle, channel) 解析联系人，首次来信时创建
func (s *MessageService) resolveContact(ctx context.Context, env *message.Envelope) (*contact.Contact, error) {
	c, err := s.contacts.GetByHandle(ctx, env.Channel, env.From)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = &contact.Contact{
		Channel:     env.Channel,
		Handle:      env.From,
		DisplayName: env.FromName,
	}
	if c.DisplayName == "" {
		c.DisplayName = env.From
	}
	if err := s.contacts.Create(ctx, c); err != nil {
		// 并发首信：另一条同 handle 的消息刚创建了联系人，读回即可
		if existing, getErr := s.contacts.GetByHandle(ctx, env.Channel, env.From); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return c, nil
}

// resolveThread 按渠道前缀后的会话键解析会话，首次引用时懒创建
func (s *MessageService) resolveThread(ctx context.Context, env *message.Envelope, c *contact.Contact) (*thread.Thread, error) {
	key := channel.ThreadKey(env.Channel, env.ThreadID)
	t, err := s.threads.GetByID(ctx, key)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	t = &thread.Thread{
		ID:        key,
		Channel:   env.Channel,
		ContactID: c.ID,
		Status:    thread.StatusActive,
	}
	if err := s.threads.Create(ctx, t); err != nil {
		if existing, getErr := s.threads.GetByID(ctx, key); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return t, nil
}

// ProcessIncoming 入站处理：解析联系人 → 解析会话 → 幂等落库 →
// 原子更新快照/未读数 → 广播。
// 返回错误表示存储不可用，调用方不得 Ack，交给 broker 重投；
// 广播失败不算错误，持久化状态才是权威。
func (s *MessageService) ProcessIncoming(ctx context.Context, env *message.Envelope) error {
	if env.ThreadID == "" || env.From == "" {
		return fmt.Errorf("%w: envelope missing threadId or from", ErrValidation)
	}

	c, err := s.resolveContact(ctx, env)
	if err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("resolve contact: %w", err)
	}
	t, err := s.resolveThread(ctx, env, c)
	if err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("resolve thread: %w", err)
	}

	msgType := env.Type
	if msgType == "" {
		msgType = typeForChannel(env.Channel)
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	m := &message.Message{
		ID:        uuid.NewString(),
		Channel:   env.Channel,
		ThreadID:  t.ID,
		ContactID: c.ID,
		Direction: message.DirectionInbound,
		Type:      msgType,
		Content:   env.Content,
		Timestamp: ts,
		Status:    message.StatusUnread,
		Raw:       env.Raw,
	}
	if env.ExternalID != "" {
		ext := env.ExternalID
		m.ExternalID = &ext
	}

	created, err := s.messages.CreateIfAbsent(ctx, m)
	if err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("persist message: %w", err)
	}
	if !created {
		// 平台/broker 重复投递，安全 no-op
		GetMonitor().RecordInboundDuplicate()
		zap.L().Debug("duplicate inbound envelope ignored",
			zap.String("channel", env.Channel.String()),
			zap.String("externalId", env.ExternalID))
		return nil
	}

	snap := thread.Snapshot{Text: env.Content.Text, At: ts, Direction: message.DirectionInbound}
	if err := s.threads.ApplySnapshot(ctx, t.ID, snap, true); err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("update thread snapshot: %w", err)
	}

	GetMonitor().RecordInboundProcessed()
	s.events.PublishNewMessage(m)
	s.events.PublishThreadsUpdated()
	return nil
}

// validateOutbound 按渠道能力校验出站内容
func validateOutbound(ch channel.Channel, content message.Content) error {
	caps := channel.CapabilitiesOf(ch)
	if caps.RequiresSubject && content.Subject == "" {
		return fmt.Errorf("%w: channel %s requires a subject", ErrValidation, ch)
	}
	if !caps.SupportsFreeCompose && len(content.BotActions) == 0 {
		return fmt.Errorf("%w: channel %s only accepts structured actions", ErrValidation, ch)
	}
	if content.Text == "" && len(content.BotActions) == 0 {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	if caps.MaxMessageLength > 0 && len(content.Text) > caps.MaxMessageLength {
		return fmt.Errorf("%w: content exceeds %d chars for channel %s",
			ErrValidation, caps.MaxMessageLength, ch)
	}
	return nil
}

// SendMessage 出站发送：同步返回已持久化的消息，平台投递异步完成，
// 结果通过后续的状态更新体现，不做阻塞往返。
func (s *MessageService) SendMessage(ctx context.Context, threadID string, ch channel.Channel, content message.Content) (*message.Message, error) {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		GetMonitor().RecordDBError()
		return nil, err
	}
	if t.Channel != ch {
		return nil, fmt.Errorf("%w: thread is on %s", ErrChannelMismatch, t.Channel)
	}
	if err := validateOutbound(ch, content); err != nil {
		return nil, err
	}
	c, err := s.contacts.GetByID(ctx, t.ContactID)
	if err != nil {
		GetMonitor().RecordDBError()
		return nil, err
	}

	now := time.Now()
	m := &message.Message{
		ID:        uuid.NewString(),
		Channel:   ch,
		ThreadID:  t.ID,
		ContactID: c.ID,
		Direction: message.DirectionOutbound,
		Type:      typeForChannel(ch),
		Content:   content,
		Timestamp: now,
		Status:    message.StatusSent,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		GetMonitor().RecordDBError()
		return nil, fmt.Errorf("persist message: %w", err)
	}

	snap := thread.Snapshot{Text: content.Text, At: now, Direction: message.DirectionOutbound}
	if err := s.threads.ApplySnapshot(ctx, t.ID, snap, false); err != nil {
		GetMonitor().RecordDBError()
		return nil, fmt.Errorf("update thread snapshot: %w", err)
	}

	env := &message.Envelope{
		MessageID: m.ID,
		Channel:   ch,
		ThreadID:  strings.TrimPrefix(t.ID, string(ch)+":"),
		From:      "",
		To:        []string{c.Handle},
		Timestamp: now,
		Type:      m.Type,
		Content:   content,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	// 渠道专属队列承担实际投递，总出站队列给旁观者
	if err := s.queue.Publish(ctx, mq.OutboundQueue(ch), body); err != nil {
		GetMonitor().RecordMQError()
		// 入队失败则该消息永远到不了平台，立即落为 failed
		if uerr := s.messages.UpdateStatus(ctx, m.ID, message.StatusFailed); uerr != nil {
			zap.L().Error("mark message failed", zap.String("id", m.ID), zap.Error(uerr))
		}
		return nil, fmt.Errorf("enqueue outbound: %w", err)
	}
	if err := s.queue.Publish(ctx, mq.OutboundFanQueue, body); err != nil {
		// 旁观者队列失败不影响投递主链路
		GetMonitor().RecordMQError()
		zap.L().Warn("publish to observer queue failed", zap.Error(err))
	}

	s.events.PublishNewMessage(m)
	s.events.PublishThreadsUpdated()
	return m, nil
}

// MarkThreadAsRead 未读数清零并翻转未读入站消息，
// 与并发到达的入站消息在存储层事务上串行化。
func (s *MessageService) MarkThreadAsRead(ctx context.Context, threadID string) error {
	if _, err := s.threads.GetByID(ctx, threadID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		return err
	}
	if err := s.threads.MarkRead(ctx, threadID); err != nil {
		GetMonitor().RecordDBError()
		return err
	}
	s.events.PublishThreadsUpdated()
	return nil
}

// ArchiveThread 归档会话，默认列表不再展示，数据保留
func (s *MessageService) ArchiveThread(ctx context.Context, threadID string) error {
	if _, err := s.threads.GetByID(ctx, threadID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		return err
	}
	if err := s.threads.Archive(ctx, threadID); err != nil {
		GetMonitor().RecordDBError()
		return err
	}
	s.events.PublishThreadsUpdated()
	return nil
}

// ListThreads 活跃会话按最近活跃排序，附联系人摘要
func (s *MessageService) ListThreads(ctx context.Context) ([]*ThreadView, error) {
	threads, err := s.threads.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ContactID)
	}
	contacts, err := s.contacts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]*contact.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}
	views := make([]*ThreadView, 0, len(threads))
	for _, t := range threads {
		views = append(views, &ThreadView{Thread: t, Contact: byID[t.ContactID]})
	}
	return views, nil
}

// ListMessages 按时间升序分页返回会话历史
func (s *MessageService) ListMessages(ctx context.Context, threadID string, page, limit int) ([]*message.Message, error) {
	if _, err := s.threads.GetByID(ctx, threadID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return s.messages.ListByThread(ctx, threadID, page, limit)
}

// LinkContact 把联系人关联到诊所的患者/主人档案
func (s *MessageService) LinkContact(ctx context.Context, contactID uint64, patientRef string) (*contact.Contact, error) {
	if patientRef == "" {
		return nil, fmt.Errorf("%w: patientRef is required", ErrValidation)
	}
	c, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	c.IsRegistered = true
	c.PatientRef = patientRef
	if err := s.contacts.Update(ctx, c); err != nil {
		GetMonitor().RecordDBError()
		return nil, err
	}
	return c, nil
}
