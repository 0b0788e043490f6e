package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, c := range All() {
		got, err := Parse(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := Parse("telegram")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
	_, err = Parse("WhatsApp") // 大小写敏感
	assert.Error(t, err)
}

func TestThreadKey(t *testing.T) {
	assert.Equal(t, "whatsapp:+34600111222", ThreadKey(WhatsApp, "+34600111222"))
	// 同一个号码在不同渠道不会撞 key
	assert.NotEqual(t, ThreadKey(WhatsApp, "+34600111222"), ThreadKey(SMS, "+34600111222"))
	assert.Equal(t, "typebot:bot-1/sess-9", ThreadKey(Typebot, "bot-1/sess-9"))
}

func TestCapabilities(t *testing.T) {
	assert.True(t, CapabilitiesOf(Outlook).RequiresSubject)
	assert.True(t, CapabilitiesOf(WhatsApp).SupportsFreeCompose)
	assert.Equal(t, 1600, CapabilitiesOf(SMS).MaxMessageLength)

	tb := CapabilitiesOf(Typebot)
	assert.False(t, tb.SupportsFreeCompose)
	assert.True(t, tb.SupportsStructuredReplies)

	// 每个渠道都要有能力描述，前端按此渲染编辑框
	for _, c := range All() {
		caps := CapabilitiesOf(c)
		assert.True(t, caps.SupportsFreeCompose || caps.SupportsStructuredReplies, c)
	}
}
