package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"escalator/internal/types"
)

const twilioAPIBase = "https://api.twilio.com"

// Twilio error codes that mean the recipient cannot be reached on purpose.
const (
	twilioErrUnsubscribed = 21610 // recipient replied STOP
	twilioErrNotWhatsApp  = 63003 // number is not a WhatsApp user
)

// TwilioClientConfig holds the configuration for creating a TwilioClient.
type TwilioClientConfig struct {
	AccountSID   string
	AuthToken    types.SecretString
	SMSFrom      string
	WhatsAppFrom string
	BaseURL      string // defaults to twilioAPIBase
}

// TwilioClient implements MessagingProvider against the Twilio Messages API
// using Content templates (ContentSid + ContentVariables).
type TwilioClient struct {
	base *BaseClient
	cfg  TwilioClientConfig
}

// NewTwilioClient creates a TwilioClient with its own breaker.
func NewTwilioClient(httpClient *http.Client, cfg TwilioClientConfig, opts ...BaseClientOption) *TwilioClient {
	base := NewBaseClient(
		httpClient,
		"twilio",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    time.Second,
			MaxWait:    8 * time.Second,
		},
		"Escalator/1.0",
		opts...,
	)
	return NewTwilioClientWithBase(base, cfg)
}

// NewTwilioClientWithBase creates a TwilioClient over a pre-configured
// BaseClient.
func NewTwilioClientWithBase(base *BaseClient, cfg TwilioClientConfig) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &TwilioClient{base: base, cfg: cfg}
}

type twilioMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// Send creates a message and returns its SID. WhatsApp addresses are
// prefixed with "whatsapp:" on both ends.
func (t *TwilioClient) Send(ctx context.Context, input MessageInput) (string, error) {
	from, to := t.cfg.SMSFrom, input.To
	if input.Channel == MessagingWhatsApp {
		from, to = "whatsapp:"+t.cfg.WhatsAppFrom, "whatsapp:"+input.To
	}
	if strings.TrimPrefix(from, "whatsapp:") == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamMessagingProvider,
			fmt.Sprintf("no sender number configured for %s", input.Channel), nil)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("ContentSid", input.ContentSID)
	if len(input.Variables) > 0 {
		vars, err := json.Marshal(input.Variables)
		if err != nil {
			return "", types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to marshal Twilio content variables", err)
		}
		form.Set("ContentVariables", string(vars))
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.BaseURL, url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create Twilio message request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken.Unmask())

	resp, err := t.base.Do(req)
	if err != nil {
		return "", wrapTransportError("Twilio", types.ErrCodeUpstreamMessagingProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamMessagingProvider,
			"failed to read Twilio response", err)
	}

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		var msg twilioMessageResponse
		if err := json.Unmarshal(body, &msg); err != nil {
			return "", types.NewAppError(types.ErrCodeUpstreamMessagingProvider,
				"failed to decode Twilio response", err)
		}
		return msg.SID, nil
	}

	var tErr twilioErrorResponse
	_ = json.Unmarshal(body, &tErr)
	if tErr.Message == "" {
		tErr.Message = string(body)
	}

	switch tErr.Code {
	case twilioErrUnsubscribed, twilioErrNotWhatsApp:
		return "", types.NewAppErrorWithDetails(types.ErrCodeRecipientBlocked,
			fmt.Sprintf("Twilio rejected recipient: %s", tErr.Message), nil,
			map[string]any{"twilio_code": tErr.Code})
	}
	return "", types.NewAppErrorWithDetails(types.ErrCodeUpstreamMessagingProvider,
		fmt.Sprintf("Twilio error (%d): %s", resp.StatusCode, tErr.Message), nil,
		map[string]any{"twilio_code": tErr.Code})
}

// Compile-time assertion that TwilioClient satisfies MessagingProvider.
var _ MessagingProvider = (*TwilioClient)(nil)
