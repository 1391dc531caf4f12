// Package email delivers escalation messages through an EmailProvider using
// provider-side dynamic templates.
package email

import (
	"context"
	"fmt"

	"escalator/internal/external"
	"escalator/internal/notifications/core"
	"escalator/internal/types"
)

// Channel implements core.Transport for email.
type Channel struct {
	provider  external.EmailProvider
	sender    external.SenderIdentity
	templates map[string]string
	logger    types.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel.
type ChannelConfig struct {
	Provider external.EmailProvider
	Sender   external.SenderIdentity
	// Templates maps internal template ids to provider template ids.
	Templates map[string]string
	Logger    types.Logger
}

// NewChannel creates an email Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Channel{
		provider:  cfg.Provider,
		sender:    cfg.Sender,
		templates: cfg.Templates,
		logger:    logger,
	}
}

// Send delivers msg. Blocked recipients are reported as a failed send with
// the provider's reason and logged at warn level; they are never retried
// here.
func (c *Channel) Send(ctx context.Context, msg types.Message) types.SendResult {
	if msg.Channel != "" && msg.Channel != types.ChannelEmail {
		return types.SendResult{Err: fmt.Errorf("email channel cannot send %s messages", msg.Channel)}
	}

	dest := RedactEmail(msg.Recipient)
	c.logger.Info("attempting email delivery", "dest", dest, "template", msg.TemplateID)

	input := external.EmailInput{
		To:           msg.Recipient,
		From:         c.sender,
		TemplateID:   c.resolveTemplate(msg.TemplateID),
		TemplateData: msg.Context,
		ReferenceID:  msg.ReferenceID,
	}
	if name, ok := msg.Context["customer_name"].(string); ok {
		input.ToName = name
	}

	id, err := c.provider.Send(ctx, input)
	if err != nil {
		if core.IsRecipientBlocked(err) {
			c.logger.Warn("recipient blocked by provider", "dest", dest, "reference_id", msg.ReferenceID)
		}
		return types.SendResult{Err: err}
	}
	return types.SendResult{Success: true, ProviderMessageID: id}
}

func (c *Channel) resolveTemplate(id string) string {
	if mapped, ok := c.templates[id]; ok {
		return mapped
	}
	return id
}

var _ core.Transport = (*Channel)(nil)
