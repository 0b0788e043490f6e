package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

const defaultTwilioAPIBase = "https://api.twilio.com/2010-04-01"

// smsMaxLength 段拼接上限（10 段 GSM-7），超过直接拒绝
const smsMaxLength = 1600

// SMSAdapter 短信服务商适配器（Twilio 签名方案）。
// 入站是表单编码 POST，thread-id 推导：对端 E.164 号码。
type SMSAdapter struct {
	cfg    *config.SMSConfig
	client *http.Client
}

func NewSMSAdapter(cfg *config.SMSConfig, client *http.Client) *SMSAdapter {
	return &SMSAdapter{cfg: cfg, client: client}
}

func (a *SMSAdapter) Channel() channel.Channel { return channel.SMS }

func (a *SMSAdapter) Capabilities() channel.Capabilities {
	return channel.CapabilitiesOf(channel.SMS)
}

// computeSignature Twilio 请求签名：回调 URL 拼上按键名排序的
// 表单参数，对 auth token 做 HMAC-SHA1 后 base64。
func computeSignature(authToken, callbackURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(callbackURL)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (a *SMSAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	header := r.Header.Get("X-Twilio-Signature")
	if header == "" || a.cfg.AuthToken == "" {
		return ErrBadSignature
	}
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return ErrBadSignature
	}
	expected := computeSignature(a.cfg.AuthToken, a.cfg.PublicURL, params)
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ErrBadSignature
	}
	return nil
}

func (a *SMSAdapter) ParseWebhook(_ context.Context, body []byte) ([]*message.Envelope, error) {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode sms form: %w", err)
	}
	from := params.Get("From")
	if from == "" {
		return nil, fmt.Errorf("sms webhook without From")
	}
	env := &message.Envelope{
		Channel:    channel.SMS,
		ExternalID: params.Get("MessageSid"),
		ThreadID:   from,
		From:       from,
		To:         []string{params.Get("To")},
		Timestamp:  time.Now(),
		Type:       message.TypeText,
		Content:    message.Content{Text: params.Get("Body")},
		Raw:        body,
	}
	return []*message.Envelope{env}, nil
}

func (a *SMSAdapter) Send(ctx context.Context, env *message.Envelope) error {
	if len(env.To) == 0 {
		return &PermanentError{Reason: "sms send without recipient"}
	}
	if len(env.Content.Text) > smsMaxLength {
		return &PermanentError{Reason: fmt.Sprintf("sms body exceeds %d chars", smsMaxLength)}
	}
	base := a.cfg.APIBase
	if base == "" {
		base = defaultTwilioAPIBase
	}
	form := url.Values{}
	form.Set("To", env.To[0])
	form.Set("From", a.cfg.FromNumber)
	form.Set("Body", env.Content.Text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", base, a.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()
	return classifyStatus(resp)
}
