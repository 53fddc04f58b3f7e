package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/faucetdb/latch/internal/license"
	"github.com/faucetdb/latch/internal/model"
	"github.com/faucetdb/latch/internal/server/middleware"
	"github.com/faucetdb/latch/internal/service"
)

// KeyHandler serves the license key endpoints: public redeem and check, and
// the admin-only issue, list, ban, unban and delete operations.
type KeyHandler struct {
	keys *service.KeyService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *service.KeyService) *KeyHandler {
	return &KeyHandler{keys: keys}
}

type redeemRequest struct {
	Key    string `json:"key" validate:"notblank"`
	HWID   string `json:"hwid" validate:"notblank"`
	UserID string `json:"user_id" validate:"notblank"`
}

type redeemResponse struct {
	Message string `json:"message"`
	Key     string `json:"key"`
	HWID    string `json:"hwid"`
}

// Redeem activates a key for a hardware id and user.
// POST /api/redeem
func (h *KeyHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	out, err := h.keys.Redeem(r.Context(), req.Key, req.HWID, req.UserID)
	if err != nil {
		writeServiceError(w, err, "Key does not exist")
		return
	}

	switch out.Reason {
	case license.ReasonNone:
		writeJSON(w, http.StatusOK, redeemResponse{
			Message: out.Detail(),
			Key:     out.Key,
			HWID:    out.HardwareID,
		})
	case license.ReasonNotFound:
		writeError(w, http.StatusNotFound, out.Detail())
	case license.ReasonLeakDetected:
		writeError(w, http.StatusForbidden, out.Detail(), map[string]interface{}{
			"type":           string(out.Reason),
			"original_hwid":  out.BoundHardwareID,
			"presented_hwid": out.PresentedHardwareID,
			"violations":     out.Violations,
		})
	default:
		writeError(w, http.StatusForbidden, out.Detail(), map[string]interface{}{
			"type": string(out.Reason),
		})
	}
}

// CheckKey returns a key's status without modifying it.
// GET /api/checkkey?key=
func (h *KeyHandler) CheckKey(w http.ResponseWriter, r *http.Request) {
	key := queryString(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	st, err := h.keys.Check(r.Context(), key)
	if err != nil {
		writeServiceError(w, err, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type createKeyRequest struct {
	Days      *int   `json:"days" validate:"omitempty,min=0,max=36500"`
	CreatedBy string `json:"created_by" validate:"max=255"`
}

type createKeyResponse struct {
	Message string    `json:"message"`
	Key     string    `json:"key"`
	Expires time.Time `json:"expires"`
}

// CreateKey issues a new key. created_by defaults to the calling admin.
// POST /api/createkey
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		if p := middleware.GetPrincipal(r.Context()); p != nil {
			createdBy = p.Email
		}
	}

	k, err := h.keys.Create(r.Context(), service.CreateKeyRequest{
		ExpiryDays: req.Days,
		CreatedBy:  createdBy,
	})
	if err != nil {
		writeServiceError(w, err, "Key not found")
		return
	}

	writeJSON(w, http.StatusOK, createKeyResponse{
		Message: "Key created successfully",
		Key:     k.KeyString,
		Expires: k.ExpiresAt,
	})
}

// ListKeys returns a status snapshot of every key, optionally only those
// whose status matches ?status=normal|banned.
// GET /api/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	status := queryString(r, "status")
	switch strings.ToLower(status) {
	case "", "normal", "banned":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status filter %q", status),
			map[string]interface{}{"field": "status", "allowed": []string{"normal", "banned"}})
		return
	}

	keys, err := h.keys.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "Key not found")
		return
	}
	if status != "" {
		filtered := keys[:0]
		for _, k := range keys {
			if strings.EqualFold(k.Status, status) {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta: &model.ResponseMeta{
			Count:  len(keys),
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

type keyRequest struct {
	Key string `json:"key" validate:"notblank"`
}

// Ban bans a key.
// POST /api/ban
func (h *KeyHandler) Ban(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.keys.Ban, "Key %s has been banned")
}

// Unban lifts a key's ban.
// POST /api/unban
func (h *KeyHandler) Unban(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.keys.Unban, "Key %s has been unbanned")
}

// DeleteKey removes a key permanently.
// POST /api/deletekey
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	h.keyAction(w, r, h.keys.Delete, "Key %s deleted successfully")
}

func (h *KeyHandler) keyAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, key string) error, okMsg string) {
	var req keyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := op(r.Context(), req.Key); err != nil {
		writeServiceError(w, err, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: fmt.Sprintf(okMsg, req.Key)})
}

// decodeRequest reads and validates a JSON body, writing a 400 and returning
// false on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := readJSON(w, r, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validateStruct(v); err != nil {
		if verr, ok := err.(*validationError); ok {
			writeError(w, http.StatusBadRequest, verr.Error(), verr.context())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
