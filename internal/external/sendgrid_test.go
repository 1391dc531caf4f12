package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"escalator/internal/types"
)

func newTestSendGrid(t *testing.T, url string) *SendGridClient {
	t.Helper()
	return NewSendGridClientWithBase(newTestClient(t, fastPolicy(1)), SendGridClientConfig{
		APIKey:  "SG.test-key",
		BaseURL: url,
	})
}

func testEmailInput() EmailInput {
	return EmailInput{
		To:           "ap@acme.example",
		ToName:       "Acme AP",
		From:         SenderIdentity{Name: "Billing", Address: "billing@example.com"},
		TemplateID:   "d-123",
		TemplateData: map[string]any{"invoice_number": "INV-7"},
		ReferenceID:  "invoice:inv-1:2",
	}
}

func TestSendGrid_Send_Success(t *testing.T) {
	var payload sendGridMailPayload
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	id, err := newTestSendGrid(t, server.URL+"/").Send(context.Background(), testEmailInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "sg-msg-1" {
		t.Errorf("expected message id sg-msg-1, got %q", id)
	}
	if auth != "Bearer SG.test-key" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if path != "/v3/mail/send" {
		t.Errorf("unexpected path %q", path)
	}
	if payload.TemplateID != "d-123" || payload.From.Email != "billing@example.com" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if len(payload.Personalizations) != 1 || payload.Personalizations[0].To[0].Email != "ap@acme.example" {
		t.Errorf("unexpected personalizations %+v", payload.Personalizations)
	}
	if payload.Personalizations[0].DynamicData["invoice_number"] != "INV-7" {
		t.Errorf("template data not forwarded: %+v", payload.Personalizations[0].DynamicData)
	}
	if payload.CustomArgs["reference_id"] != "invoice:inv-1:2" {
		t.Errorf("reference id not forwarded: %+v", payload.CustomArgs)
	}
}

func TestSendGrid_Send_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   types.ErrorCode
	}{
		{"suppressed recipient", http.StatusForbidden, `{"errors":[{"message":"recipient suppressed"}]}`, types.ErrCodeRecipientBlocked},
		{"bad request", http.StatusBadRequest, `{"errors":[{"message":"invalid template","field":"template_id"}]}`, types.ErrCodeUpstreamEmailProvider},
		{"unauthorized", http.StatusUnauthorized, `not json`, types.ErrCodeUpstreamEmailProvider},
		{"server error", http.StatusInternalServerError, ``, types.ErrCodeUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, ``, types.ErrCodeUpstreamRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestSendGrid(t, server.URL).Send(context.Background(), testEmailInput())
			if !types.IsCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestBuildMailPayload_OmitsEmptyReference(t *testing.T) {
	in := testEmailInput()
	in.ReferenceID = ""
	if p := buildMailPayload(in); p.CustomArgs != nil {
		t.Errorf("expected no custom args, got %+v", p.CustomArgs)
	}
}
