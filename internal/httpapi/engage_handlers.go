package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"coachline.org/internal/audit"
	"coachline.org/internal/engage"
	"coachline.org/internal/obs"
	"coachline.org/internal/session"
)

// FeatureEngagementCreate names the admission capability an action token
// must grant.
const FeatureEngagementCreate = "engagement.create"

type createEngagementRequest struct {
	CoachID  string `json:"coach_id"`
	ClientID string `json:"client_id"`
}

func (a *API) handleEngagementsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEngagement(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) createEngagement(w http.ResponseWriter, r *http.Request) {
	var req createEngagementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}
	subject, _ := session.SubjectFromContext(r.Context())
	role := session.RoleFromContext(r.Context())

	// Admission is a coach capability; coaches admit into their own roster
	// and only admins may act for another.
	if role != session.RoleCoach && role != session.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "", "only coaches may create engagements")
		return
	}
	coachID := strings.TrimSpace(req.CoachID)
	if coachID == "" {
		coachID = subject
	}
	if coachID != subject && role != session.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "", "cannot create engagements for another coach")
		return
	}

	// The claim is the last gate before the mutation; an invalid request
	// must not burn a single-use token.
	if _, ok := a.gate(w, r, FeatureEngagementCreate); !ok {
		return
	}

	eng, err := a.svc.Engagements.Admit(r.Context(), coachID, req.ClientID)
	if err != nil {
		var card *engage.CardinalityError
		if errors.As(err, &card) {
			obs.CardinalityRejected()
			_ = audit.LogEvent(r.Context(), "engage.admit.reject", map[string]any{
				"coach_id": coachID,
				"limit":    card.Limit,
			})
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      "active relationship ceiling reached",
				"code":       "cardinality_exceeded",
				"limit":      card.Limit,
				"request_id": RequestIDFromContext(r.Context()),
			})
			return
		}
		writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "engage.admit", map[string]any{
		"engagement_id": eng.ID,
		"coach_id":      eng.CoachID,
		"client_id":     eng.ClientID,
	})

	w.Header().Set("Location", "/v1/engagements/"+eng.ID)
	writeJSON(w, http.StatusCreated, eng)
}

func (a *API) handleEngagementResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/engagements/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "", "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	subject, _ := session.SubjectFromContext(r.Context())
	role := session.RoleFromContext(r.Context())

	eng, err := a.svc.Engagements.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, engage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "", "engagement not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "", "internal error")
		return
	}
	if subject != eng.CoachID && subject != eng.ClientID && role != session.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "", "not a participant of this engagement")
		return
	}
	writeJSON(w, http.StatusOK, eng)
}
