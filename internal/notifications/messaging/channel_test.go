package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escalator/internal/external"
	"escalator/internal/types"
)

type fakeProvider struct {
	calls []external.MessageInput
	sid   string
	err   error
}

func (f *fakeProvider) Send(_ context.Context, in external.MessageInput) (string, error) {
	f.calls = append(f.calls, in)
	return f.sid, f.err
}

func TestChannel_Send(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func(ChannelConfig) *Channel
		channel types.ChannelType
		network external.MessagingChannel
	}{
		{"sms", NewSMSChannel, types.ChannelSMS, external.MessagingSMS},
		{"whatsapp", NewWhatsAppChannel, types.ChannelWhatsApp, external.MessagingWhatsApp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{sid: "SM1"}
			ch := tt.newFn(ChannelConfig{
				Provider:  p,
				Templates: map[string]string{"dunning.second." + string(tt.channel): "HX2"},
			})

			res := ch.Send(context.Background(), types.Message{
				Channel:     tt.channel,
				Recipient:   "+15557654321",
				TemplateID:  "dunning.second." + string(tt.channel),
				Context:     map[string]any{"invoice_number": "INV-7", "amount": "120.00"},
				ReferenceID: "invoice:inv-1:3",
			})

			require.True(t, res.Success, "send failed: %v", res.Err)
			assert.Equal(t, "SM1", res.ProviderMessageID)
			require.Len(t, p.calls, 1)
			in := p.calls[0]
			assert.Equal(t, tt.network, in.Channel)
			assert.Equal(t, "HX2", in.ContentSID)
			assert.Equal(t, "+15557654321", in.To)
			assert.Equal(t, map[string]string{"1": "120.00", "2": "INV-7"}, in.Variables)
			assert.Equal(t, "invoice:inv-1:3", in.ReferenceID)
		})
	}
}

func TestChannel_Send_Errors(t *testing.T) {
	blocked := types.NewAppError(types.ErrCodeRecipientBlocked, "STOP", nil)
	ch := NewSMSChannel(ChannelConfig{Provider: &fakeProvider{err: blocked}})

	res := ch.Send(context.Background(), types.Message{Channel: types.ChannelSMS, Recipient: "+1555", TemplateID: "x"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, blocked)

	p := &fakeProvider{}
	ch = NewSMSChannel(ChannelConfig{Provider: p})
	res = ch.Send(context.Background(), types.Message{Channel: types.ChannelWhatsApp, Recipient: "+1555"})
	assert.False(t, res.Success)
	assert.Empty(t, p.calls)
}

func TestVariables(t *testing.T) {
	assert.Nil(t, Variables(nil))
	assert.Equal(t, map[string]string{"1": "3", "2": "x"}, Variables(map[string]any{"b": "x", "a": 3}))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***4321", RedactPhone("+15557654321"))
	assert.Equal(t, "***", RedactPhone("123"))
	assert.Equal(t, "***", RedactPhone(""))
}
