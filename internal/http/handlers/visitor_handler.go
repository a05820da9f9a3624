package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bouclier/residence-access/internal/domain"
	mw "github.com/bouclier/residence-access/internal/http/middleware"
	"github.com/bouclier/residence-access/internal/http/response"
	"github.com/bouclier/residence-access/internal/repo/mongodb"
	"github.com/bouclier/residence-access/pkg/events"
	"github.com/bouclier/residence-access/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type VisitorHandler struct {
	Visitors mongodb.VisitorsRepo
	Bus      events.Publisher
}

func NewVisitorHandler(visitors mongodb.VisitorsRepo, bus events.Publisher) *VisitorHandler {
	return &VisitorHandler{Visitors: visitors, Bus: bus}
}

// CreateGroup issues one single-use pass per visitor, all sharing a fresh
// group id. The building is taken from the caller's identity, never from the
// request body.
func (h *VisitorHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	user := mw.User(r)
	if user == nil {
		response.Unauthorized(w, "access token required")
		return
	}

	var in domain.CreateVisitorGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	now := time.Now().UTC()
	in.Normalize()
	if err := in.Validate(now); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	passes, err := h.Visitors.CreateGroup(r.Context(), user.ID, user.BuildingID, in.Visitors)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to create visitor group", "error", err)
		response.InternalError(w, "Failed to create visitor passes")
		return
	}

	accessIDs := make([]string, len(passes))
	for i, p := range passes {
		accessIDs[i] = p.AccessID
	}
	if err := h.Bus.Publish(r.Context(), events.VisitorGroupCreated, events.VisitorGroupCreatedEvent{
		GroupID:    passes[0].GroupID,
		CreatedBy:  user.ID.Hex(),
		BuildingID: user.BuildingID,
		AccessIDs:  accessIDs,
	}); err != nil {
		logger.WarnContext(r.Context(), "failed to publish group event", "error", err)
	}

	response.WriteJSON(w, http.StatusCreated, map[string]any{
		"groupId":  passes[0].GroupID,
		"visitors": passes,
	})
}

// List returns every pass the caller has issued, most recent invitations
// last, with derived statuses.
func (h *VisitorHandler) List(w http.ResponseWriter, r *http.Request) {
	user := mw.User(r)
	if user == nil {
		response.Unauthorized(w, "access token required")
		return
	}

	passes, err := h.Visitors.ListByCreator(r.Context(), user.ID)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to list visitor passes", "error", err)
		response.InternalError(w, "Failed to list visitor passes")
		return
	}

	response.WriteJSON(w, http.StatusOK, withEffectiveStatuses(passes))
}

// GetGroup returns every pass sharing one group id.
func (h *VisitorHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if groupID == "" {
		response.BadRequest(w, "group id is required")
		return
	}

	passes, err := h.Visitors.FindByGroupID(r.Context(), groupID)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to load visitor group", "error", err)
		response.InternalError(w, "Failed to load visitor group")
		return
	}
	if len(passes) == 0 {
		response.NotFound(w, "Unknown group")
		return
	}

	response.WriteJSON(w, http.StatusOK, withEffectiveStatuses(passes))
}

// GetByAccessID returns a single pass with its derived status. Gate staff
// use it to preview a scan without consuming the pass.
func (h *VisitorHandler) GetByAccessID(w http.ResponseWriter, r *http.Request) {
	accessID := chi.URLParam(r, "accessID")
	if accessID == "" {
		response.BadRequest(w, "access id is required")
		return
	}

	pass, err := h.Visitors.FindByAccessID(r.Context(), accessID)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to load visitor pass", "error", err)
		response.InternalError(w, "Failed to load visitor pass")
		return
	}
	if pass == nil {
		response.NotFound(w, "Unknown pass")
		return
	}

	response.WriteJSON(w, http.StatusOK, pass.WithEffectiveStatus(time.Now().UTC()))
}

// Redeem consumes a pass at the gate. The transition is atomic: when two
// agents scan the same code at once, exactly one gets the admitted response
// and the other a conflict.
func (h *VisitorHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	user := mw.User(r)
	if user == nil {
		response.Unauthorized(w, "access token required")
		return
	}

	accessID := chi.URLParam(r, "accessID")
	if accessID == "" {
		response.BadRequest(w, "access id is required")
		return
	}

	now := time.Now().UTC()
	pass, err := h.Visitors.Redeem(r.Context(), accessID, user.ID.Hex(), now)
	switch {
	case err == nil:
	case errors.Is(err, mongodb.ErrNotFound):
		response.NotFound(w, "Unknown pass")
		return
	case errors.Is(err, domain.ErrPassAlreadyUsed):
		response.Conflict(w, "pass already redeemed", response.CodeAlreadyRedeemed)
		return
	case errors.Is(err, domain.ErrPassExpired):
		response.Conflict(w, "pass expired", response.CodePassExpired)
		return
	default:
		logger.ErrorContext(r.Context(), "failed to redeem visitor pass", "error", err)
		response.InternalError(w, "Failed to redeem pass")
		return
	}

	if err := h.Bus.Publish(r.Context(), events.VisitorRedeemed, events.VisitorRedeemedEvent{
		AccessID:   pass.AccessID,
		GroupID:    pass.GroupID,
		BuildingID: pass.BuildingID,
		RedeemedBy: user.ID.Hex(),
		RedeemedAt: now,
	}); err != nil {
		logger.WarnContext(r.Context(), "failed to publish redeem event", "error", err)
	}

	response.WriteJSON(w, http.StatusOK, domain.RedeemResponse{
		Pass:    *pass,
		Outcome: "admitted",
	})
}

// Cleanup is the manual trigger for the expiry sweep. The background sweeper
// runs the same pass on a timer; both are advisory housekeeping.
func (h *VisitorHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	count, err := h.Visitors.MarkExpired(r.Context(), now)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to mark expired passes", "error", err)
		response.InternalError(w, "Failed to clean up passes")
		return
	}

	if count > 0 {
		if err := h.Bus.Publish(r.Context(), events.VisitorsExpired, events.VisitorsExpiredEvent{
			Count:     count,
			SweptAt:   now,
			Triggered: "manual",
		}); err != nil {
			logger.WarnContext(r.Context(), "failed to publish expiry event", "error", err)
		}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"expired": count})
}

func withEffectiveStatuses(passes []domain.VisitorPass) []domain.VisitorPass {
	now := time.Now().UTC()
	out := make([]domain.VisitorPass, len(passes))
	for i, p := range passes {
		out[i] = p.WithEffectiveStatus(now)
	}
	return out
}
