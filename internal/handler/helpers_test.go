package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faucetdb/latch/internal/service"
	"github.com/faucetdb/latch/internal/store"
)

// ---------------------------------------------------------------------------
// statusForError tests
// ---------------------------------------------------------------------------

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: key required", service.ErrInvalidInput), http.StatusBadRequest},
		{"not found", fmt.Errorf("check key: %w", store.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("create key: %w", store.ErrConflict), http.StatusConflict},
		{"unavailable", fmt.Errorf("list keys: %w", store.ErrUnavailable), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWriteServiceErrorHidesStorageDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(rr, fmt.Errorf("list keys: %w: dial tcp 10.0.0.5:5432: refused", store.ErrUnavailable), "Key not found")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "10.0.0.5") {
		t.Errorf("driver detail leaked: %s", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// writeError / readJSON tests
// ---------------------------------------------------------------------------

func TestWriteErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusForbidden, "Key is banned and cannot be used", map[string]interface{}{"type": "banned"})

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != http.StatusForbidden || body.Error.Context["type"] != "banned" {
		t.Errorf("unexpected envelope %+v", body)
	}
}

func TestReadJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/createkey", nil)
	var v struct {
		Days *int `json:"days"`
	}
	if err := readJSON(httptest.NewRecorder(), req, &v); err != nil {
		t.Fatalf("readJSON on empty body: %v", err)
	}
	if v.Days != nil {
		t.Error("expected days to stay nil")
	}
}

func TestReadJSONTooLarge(t *testing.T) {
	big := `{"key":"` + strings.Repeat("A", maxBodyBytes) + `"}`
	req := httptest.NewRequest("POST", "/api/ban", strings.NewReader(big))
	var v keyRequest
	if err := readJSON(httptest.NewRecorder(), req, &v); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

// ---------------------------------------------------------------------------
// validateStruct tests
// ---------------------------------------------------------------------------

func TestValidateStructUsesJSONNames(t *testing.T) {
	err := validateStruct(&redeemRequest{Key: "k", HWID: " "})
	var verr *validationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validationError, got %v", err)
	}
	if _, ok := verr.fields["hwid"]; !ok {
		t.Errorf("expected hwid in %v", verr.fields)
	}
	if _, ok := verr.fields["user_id"]; !ok {
		t.Errorf("expected user_id in %v", verr.fields)
	}
	if verr.Error() != "hwid is required; user_id is required" {
		t.Errorf("message = %q", verr.Error())
	}
}

func TestValidateStructDaysRange(t *testing.T) {
	neg, zero := -1, 0
	if err := validateStruct(&createKeyRequest{Days: &neg}); err == nil {
		t.Error("expected error for negative days")
	}
	if err := validateStruct(&createKeyRequest{Days: &zero}); err != nil {
		t.Errorf("zero days should be valid: %v", err)
	}
	if err := validateStruct(&createKeyRequest{}); err != nil {
		t.Errorf("omitted days should be valid: %v", err)
	}
}
