package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
)

func TestUnsubscribeHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		err        error
		wantStatus int
		wantError  string
	}{
		{"no query", http.MethodGet, "/api/Unsubscribe", nil, http.StatusBadRequest,
			"UnsubscribeKey is missing as no query parameters have been specified."},
		{"empty key", http.MethodGet, "/api/Unsubscribe?UnsubscribeKey=", nil, http.StatusBadRequest,
			"UnsubscribeKey is either missing or empty"},
		{"other key", http.MethodGet, "/api/Unsubscribe?foo=bar", nil, http.StatusBadRequest,
			"UnsubscribeKey is either missing or empty"},
		{"post", http.MethodPost, "/api/Unsubscribe?UnsubscribeKey=abc", nil, http.StatusMethodNotAllowed,
			"Requests method POST is not allowed."},
		{"codec error", http.MethodGet, "/api/Unsubscribe?UnsubscribeKey=abc",
			&dispatch.Error{Kind: dispatch.KindCodec, Msg: "Failed to decode Unsubscribe parameters from the UnsubscribeKey key."},
			http.StatusBadRequest, "Failed to decode Unsubscribe parameters from the UnsubscribeKey key."},
		{"writer error", http.MethodGet, "/api/Unsubscribe?UnsubscribeKey=abc",
			&dispatch.Error{Kind: dispatch.KindBackend, Msg: "Failed to update the suppression list."},
			http.StatusInternalServerError, "Failed to update the suppression list."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{unsubErr: tt.err}
			rec := httptest.NewRecorder()
			newTestRouter(d).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestUnsubscribeHandler_Success(t *testing.T) {
	d := &fakeDispatcher{}
	rec := httptest.NewRecorder()
	// An unescaped '+' arrives as a space and is passed through unchanged.
	newTestRouter(d).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/Unsubscribe?UnsubscribeKey=ab+c%3D", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(d.tokens) != 1 || d.tokens[0] != "ab c=" {
		t.Errorf("token = %q", d.tokens)
	}

	var resp unsubscribeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "The email address ops@example.com has been added to the Suppression List." || resp.OperationID != "op-9" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
