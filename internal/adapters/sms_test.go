package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
)

func newSMS(cfg *config.SMSConfig) *SMSAdapter {
	if cfg == nil {
		cfg = &config.SMSConfig{
			AccountSID: "AC123",
			AuthToken:  "tw-token",
			FromNumber: "+34911222333",
			PublicURL:  "https://gateway.example.com/webhooks/sms",
		}
	}
	return NewSMSAdapter(cfg, &http.Client{Timeout: time.Second})
}

func smsForm() url.Values {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+34600111222")
	form.Set("To", "+34911222333")
	form.Set("Body", "Hola")
	return form
}

func TestSMSVerifyWebhook(t *testing.T) {
	a := newSMS(nil)
	form := smsForm()
	body := []byte(form.Encode())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", nil)
	req.Header.Set("X-Twilio-Signature",
		computeSignature("tw-token", "https://gateway.example.com/webhooks/sms", form))
	assert.NoError(t, a.VerifyWebhook(req, body))

	// 篡改任何参数都会让签名失效
	tampered := smsForm()
	tampered.Set("Body", "Hola!!")
	assert.ErrorIs(t, a.VerifyWebhook(req, []byte(tampered.Encode())), ErrBadSignature)

	req.Header.Del("X-Twilio-Signature")
	assert.ErrorIs(t, a.VerifyWebhook(req, body), ErrBadSignature)
}

func TestSMSParseWebhook(t *testing.T) {
	a := newSMS(nil)
	envs, err := a.ParseWebhook(context.Background(), []byte(smsForm().Encode()))
	require.NoError(t, err)
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, channel.SMS, env.Channel)
	assert.Equal(t, "SM123", env.ExternalID)
	assert.Equal(t, "+34600111222", env.ThreadID)
	assert.Equal(t, []string{"+34911222333"}, env.To)
	assert.Equal(t, "Hola", env.Content.Text)

	_, err = a.ParseWebhook(context.Background(), []byte("Body=sin+remitente"))
	assert.Error(t, err)
}

func TestSMSSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "tw-token", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+34600111222", r.PostForm.Get("To"))
		assert.Equal(t, "+34911222333", r.PostForm.Get("From"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := newSMS(&config.SMSConfig{
		AccountSID: "AC123",
		AuthToken:  "tw-token",
		FromNumber: "+34911222333",
		APIBase:    srv.URL,
	})
	require.NoError(t, a.Send(context.Background(),
		outboundEnv(channel.SMS, "+34600111222", "Hola")))

	// 超长短信是永久失败，不应进入重试
	long := outboundEnv(channel.SMS, "+34600111222", strings.Repeat("a", smsMaxLength+1))
	err := a.Send(context.Background(), long)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
