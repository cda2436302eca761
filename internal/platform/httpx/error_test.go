package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rr,
		NewError("insufficient_stock", "not enough\nstock", http.StatusBadRequest).WithDetails(map[string]any{"product_id": "P1", "status": 999}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" || body["message"] != "not enough stock" || body["product_id"] != "P1" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"] != float64(400) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Code string `json:"code"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"code":"SAVE10"}`, false},
		{"unknown field", `{"code":"x","extra":1}`, true},
		{"empty", ``, true},
		{"two objects", `{"code":"a"}{"code":"b"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst payload
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
