package external

import "context"

// EmailProvider sends templated email through a provider's dynamic
// templates. The provider renders the content.
type EmailProvider interface {
	// Send returns the provider's message id.
	Send(ctx context.Context, input EmailInput) (providerMsgID string, err error)
}

// MessagingProvider sends templated SMS or WhatsApp messages.
type MessagingProvider interface {
	// Send returns the provider's message id.
	Send(ctx context.Context, input MessageInput) (providerMsgID string, err error)
}

// SenderIdentity is the From header of an email.
type SenderIdentity struct {
	Name    string
	Address string
}

// EmailInput is a provider-neutral email send request.
type EmailInput struct {
	To           string
	ToName       string
	From         SenderIdentity
	TemplateID   string
	TemplateData map[string]any
	ReferenceID  string
}

// MessagingChannel selects the messaging network.
type MessagingChannel string

const (
	MessagingSMS      MessagingChannel = "sms"
	MessagingWhatsApp MessagingChannel = "whatsapp"
)

// MessageInput is a provider-neutral SMS/WhatsApp send request. Variables
// fill the numbered placeholders of the content template.
type MessageInput struct {
	Channel     MessagingChannel
	To          string
	ContentSID  string
	Variables   map[string]string
	ReferenceID string
}
