// Package messaging delivers escalation messages over SMS and WhatsApp
// through a MessagingProvider using pre-approved content templates.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"escalator/internal/external"
	"escalator/internal/notifications/core"
	"escalator/internal/types"
)

// Channel implements core.Transport for one messaging network.
type Channel struct {
	network   external.MessagingChannel
	provider  external.MessagingProvider
	templates map[string]string
	logger    types.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel.
type ChannelConfig struct {
	Provider external.MessagingProvider
	// Templates maps internal template ids to provider content ids.
	Templates map[string]string
	Logger    types.Logger
}

// NewSMSChannel creates a Channel that sends SMS.
func NewSMSChannel(cfg ChannelConfig) *Channel {
	return newChannel(external.MessagingSMS, cfg)
}

// NewWhatsAppChannel creates a Channel that sends WhatsApp messages.
func NewWhatsAppChannel(cfg ChannelConfig) *Channel {
	return newChannel(external.MessagingWhatsApp, cfg)
}

func newChannel(network external.MessagingChannel, cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Channel{
		network:   network,
		provider:  cfg.Provider,
		templates: cfg.Templates,
		logger:    logger,
	}
}

// Send delivers msg on the channel's network.
func (c *Channel) Send(ctx context.Context, msg types.Message) types.SendResult {
	if msg.Channel != "" && string(msg.Channel) != string(c.network) {
		return types.SendResult{Err: fmt.Errorf("%s channel cannot send %s messages", c.network, msg.Channel)}
	}

	dest := RedactPhone(msg.Recipient)
	c.logger.Info("attempting message delivery", "network", string(c.network), "dest", dest, "template", msg.TemplateID)

	contentSID, ok := c.templates[msg.TemplateID]
	if !ok {
		contentSID = msg.TemplateID
	}

	id, err := c.provider.Send(ctx, external.MessageInput{
		Channel:     c.network,
		To:          msg.Recipient,
		ContentSID:  contentSID,
		Variables:   Variables(msg.Context),
		ReferenceID: msg.ReferenceID,
	})
	if err != nil {
		if core.IsRecipientBlocked(err) {
			c.logger.Warn("recipient blocked by provider", "network", string(c.network), "dest", dest)
		}
		return types.SendResult{Err: err}
	}
	return types.SendResult{Success: true, ProviderMessageID: id}
}

// Variables flattens template context into the numbered placeholders
// content templates use: keys are sorted and numbered from "1".
func Variables(ctx map[string]any) map[string]string {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for i, k := range keys {
		out[strconv.Itoa(i+1)] = fmt.Sprint(ctx[k])
	}
	return out
}

// RedactPhone keeps the last four digits: "+15557654321" becomes "***4321".
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}

var _ core.Transport = (*Channel)(nil)
