package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"escalator/internal/types"
)

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"job": "invoice-dunning"}})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
	var body struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Data["job"] != "invoice-dunning" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, map[string]any{"bad": make(chan int)})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestError_AppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", types.NewAppError(types.ErrCodeNotFoundJob, "job \"x\" is not registered", nil), http.StatusNotFound, "not_found_job"},
		{"conflict", types.NewAppError(types.ErrCodeConflictJobRunning, "busy", nil), http.StatusConflict, "conflict_job_running"},
		{"wrapped", errors.Join(errors.New("ctx"), types.NewAppError(types.ErrCodeValidationMissingField, "tenant id", nil)), http.StatusBadRequest, "validation_missing_required_field"},
		{"generic", errors.New("pq: secret detail"), http.StatusInternalServerError, "internal_unexpected_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

			Error(w, r, tt.err)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			var body APIErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Error.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, body.Error.Code)
			}
			if body.Error.RequestID != "req-1" {
				t.Errorf("expected request id, got %q", body.Error.RequestID)
			}
			if strings.Contains(w.Body.String(), "secret detail") {
				t.Error("internal error text leaked to the client")
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Offsets map[string]int `json:"offsets"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"offsets":{"2":10}}`, false},
		{"empty", ``, true},
		{"syntax", `{"offsets":`, true},
		{"unknown field", `{"offsets":{},"extra":1}`, true},
		{"wrong type", `{"offsets":"ten"}`, true},
		{"two values", `{"offsets":{}} {"offsets":{}}`, true},
		{"too large", `{"offsets":{"1":` + strings.Repeat(" ", maxRequestBodySize) + `1}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSON(w, r, &dst)
			if tt.wantErr {
				if !types.IsCode(err, errCodeValidationInvalidJSON) {
					t.Fatalf("expected invalid json error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dst.Offsets["2"] != 10 {
				t.Errorf("unexpected decode %+v", dst)
			}
		})
	}
}
