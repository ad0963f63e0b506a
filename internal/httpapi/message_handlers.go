package httpapi

import (
	"errors"
	"net/http"

	"coachline.org/internal/audit"
	"coachline.org/internal/chat"
	"coachline.org/internal/obs"
	"coachline.org/internal/quota"
	"coachline.org/internal/session"
)

// FeatureChatSend names the messaging capability an action token must grant.
const FeatureChatSend = "chat.send"

type sendMessageRequest struct {
	EngagementID string `json:"engagement_id"`
	Body         string `json:"body"`
}

type sendMessageResponse struct {
	Message chat.Message `json:"message"`
	Quota   quota.Usage  `json:"quota"`
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.sendMessage(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}

	// The claim is the last gate before the mutation; a malformed request
	// must not burn a single-use token.
	grant, ok := a.gate(w, r, FeatureChatSend)
	if !ok {
		return
	}
	subject, _ := session.SubjectFromContext(r.Context())

	msg, usage, err := a.svc.Chat.Send(r.Context(), subject, req.EngagementID, req.Body)
	if err != nil {
		var exceeded *quota.ExceededError
		switch {
		case errors.As(err, &exceeded):
			obs.QuotaRejected(exceeded.Scope)
			_ = audit.LogEvent(r.Context(), "quota.reject", map[string]any{
				"scope": exceeded.Scope,
				"limit": exceeded.Limit,
				"used":  exceeded.Used,
			})
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":      "daily message quota exceeded",
				"code":       "quota_exceeded",
				"scope":      exceeded.Scope,
				"limit":      exceeded.Limit,
				"used":       exceeded.Used,
				"remaining":  exceeded.Remaining,
				"request_id": RequestIDFromContext(r.Context()),
			})
		case errors.Is(err, chat.ErrEngagementNotFound):
			writeError(w, r, http.StatusNotFound, "", "engagement not found")
		case errors.Is(err, chat.ErrNotParticipant):
			writeError(w, r, http.StatusForbidden, "", "not a participant of this engagement")
		case errors.Is(err, chat.ErrEmptyBody), errors.Is(err, chat.ErrBodyTooLong):
			writeError(w, r, http.StatusBadRequest, "", err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "", "message delivery failed")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "chat.message.send", map[string]any{
		"message_id":    msg.ID,
		"engagement_id": msg.EngagementID,
		"token_id":      grant.TokenID,
	})

	writeJSON(w, http.StatusCreated, sendMessageResponse{Message: msg, Quota: usage})
}
