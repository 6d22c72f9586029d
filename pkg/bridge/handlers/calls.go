package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hearsay-ai/callwire/pkg/bridge/config"
	"github.com/hearsay-ai/callwire/pkg/bridge/dialer"
	"github.com/hearsay-ai/callwire/pkg/bridge/metrics"
	"github.com/hearsay-ai/callwire/pkg/bridge/store"
)

// CallUserHandler places an outbound call: it records the call, dials the
// telephony leg, and hands the caller the SID that keys the media stream.
type CallUserHandler struct {
	Config  config.Config
	Store   store.Store
	Dialer  dialer.Dialer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type callUserRequest struct {
	To       string `json:"to"`
	CallType string `json:"call_type"`
}

type callUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	CallSID string `json:"call_sid"`
	CallID  string `json:"call_id"`
}

func (h CallUserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, errTypeInvalidRequest, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	var req callUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "Missing 'to' parameter with the phone number to call")
		return
	}
	callType := strings.TrimSpace(req.CallType)
	if callType == "" {
		callType = "on-demand"
	}

	ctx := r.Context()
	user, err := h.Store.EnsureUser(ctx, req.To)
	if err != nil {
		h.Logger.Error("ensure user", "error", err)
		h.Metrics.RecordError("store")
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to record call")
		return
	}
	call, err := h.Store.CreateCall(ctx, user.ID, callType)
	if err != nil {
		h.Logger.Error("create call", "user_id", user.ID, "error", err)
		h.Metrics.RecordError("store")
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to record call")
		return
	}

	sid, err := h.Dialer.Dial(ctx, req.To, streamURLFor(r))
	if err != nil {
		_ = h.Store.SetCallStatus(ctx, call.ID, store.CallStatusFailed)
		h.Metrics.RecordCall(callType, store.CallStatusFailed)
		h.Metrics.RecordError("dialer")
		h.Logger.Error("dial failed", "call_id", call.ID, "error", err)
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "Failed to initiate call")
		return
	}
	if err := h.Store.SetCallDialSID(ctx, call.ID, sid); err != nil {
		h.Logger.Error("record call sid", "call_id", call.ID, "error", err)
		h.Metrics.RecordError("store")
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to record call")
		return
	}

	h.Metrics.RecordCall(callType, store.CallStatusInitiated)
	h.Logger.Info("call initiated", "call_id", call.ID, "call_sid", sid, "call_type", callType)

	writeJSON(w, http.StatusAccepted, callUserResponse{
		Success: true,
		Message: "Call initiated",
		CallSID: sid,
		CallID:  call.ID,
	})
}

// streamURLFor tells the dialer where the call's media will be bridged.
func streamURLFor(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + "/media-stream"
}
