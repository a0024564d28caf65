package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ig-autoreply/internal/core/domain"
	"ig-autoreply/internal/core/ports"
)

const (
	ownerHeader  = "X-Owner-ID"
	defaultOwner = "demo"
	maxAPIBody   = 1 << 20
)

// AutomationHandler serves the automation CRUD API. Rules are scoped by the
// X-Owner-ID header.
type AutomationHandler struct {
	repo         ports.RuleAdminRepository
	defaultOwner string
	now          func() time.Time
}

// NewAutomationHandler creates the handler. Requests without X-Owner-ID act
// as ownerScope, or "demo" when that is empty.
func NewAutomationHandler(repo ports.RuleAdminRepository, ownerScope string) *AutomationHandler {
	owner := strings.TrimSpace(ownerScope)
	if owner == "" {
		owner = defaultOwner
	}
	return &AutomationHandler{
		repo:         repo,
		defaultOwner: owner,
		now:          time.Now,
	}
}

// automationRequest is the create/patch body. Pointer fields distinguish
// "absent" from "zero" on PATCH.
type automationRequest struct {
	IGMediaID        *string                `json:"igMediaId"`
	IGMediaPermalink *string                `json:"igMediaPermalink"`
	IGMediaThumb     *string                `json:"igMediaThumb"`
	AnyKeyword       *bool                  `json:"anyKeyword"`
	Keywords         *[]string              `json:"keywords"`
	MessageText      *string                `json:"messageText"`
	Links            *[]domain.LinkCard     `json:"links"`
	Carousel         *[]domain.CarouselCard `json:"carousel"`
	IsActive         *bool                  `json:"isActive"`
}

// apply copies the present fields onto rule
func (req *automationRequest) apply(rule *domain.AutomationRule) {
	if req.IGMediaID != nil {
		rule.IGMediaID = strings.TrimSpace(*req.IGMediaID)
	}
	if req.IGMediaPermalink != nil {
		rule.IGMediaPermalink = strings.TrimSpace(*req.IGMediaPermalink)
	}
	if req.IGMediaThumb != nil {
		rule.IGMediaThumb = strings.TrimSpace(*req.IGMediaThumb)
	}
	if req.AnyKeyword != nil {
		rule.AnyKeyword = *req.AnyKeyword
	}
	if req.Keywords != nil {
		rule.Keywords = domain.NormalizeKeywords(*req.Keywords)
	}
	if req.MessageText != nil {
		rule.MessageText = *req.MessageText
	}
	if req.Links != nil {
		rule.Links = *req.Links
	}
	if req.Carousel != nil {
		rule.Carousel = *req.Carousel
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
}

func (h *AutomationHandler) owner(r *http.Request) string {
	if o := strings.TrimSpace(r.Header.Get(ownerHeader)); o != "" {
		return o
	}
	return h.defaultOwner
}

func decodeAutomation(w http.ResponseWriter, r *http.Request) (*automationRequest, bool) {
	var req automationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, r, BadRequestResponse("Invalid JSON body"))
		return nil, false
	}
	return &req, true
}

// Create handles POST /api/automations
func (h *AutomationHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAutomation(w, r)
	if !ok {
		return
	}

	now := h.now().UTC()
	rule := &domain.AutomationRule{
		ID:        uuid.NewString(),
		OwnerID:   h.owner(r),
		Keywords:  []string{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(rule)

	if rule.IGMediaID == "" {
		writeJSON(w, r, BadRequestResponse("igMediaId required"))
		return
	}

	if err := h.repo.CreateRule(r.Context(), rule); err != nil {
		slog.Error("Failed to create automation", "error", err, "owner_id", rule.OwnerID)
		writeJSON(w, r, InternalErrorResponse("Failed to create automation"))
		return
	}
	writeJSON(w, r, NewSuccessResponse(rule))
}

// List handles GET /api/automations
func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := h.owner(r)
	rules, err := h.repo.ListRules(r.Context(), owner)
	if err != nil {
		slog.Error("Failed to list automations", "error", err, "owner_id", owner)
		writeJSON(w, r, InternalErrorResponse("Failed to load automations"))
		return
	}
	writeJSON(w, r, NewSuccessResponse(rules))
}

// Get handles GET /api/automations/{id}
func (h *AutomationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), h.owner(r), r.PathValue("id"))
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to load automation")
		return
	}
	writeJSON(w, r, NewSuccessResponse(rule))
}

// Update handles PATCH /api/automations/{id}
func (h *AutomationHandler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAutomation(w, r)
	if !ok {
		return
	}

	rule, err := h.repo.GetRule(r.Context(), h.owner(r), r.PathValue("id"))
	if err != nil {
		h.writeRepoError(w, r, err, "Failed to load automation")
		return
	}

	req.apply(rule)
	if rule.IGMediaID == "" {
		writeJSON(w, r, BadRequestResponse("igMediaId cannot be empty"))
		return
	}
	rule.UpdatedAt = h.now().UTC()

	if err := h.repo.UpdateRule(r.Context(), rule); err != nil {
		h.writeRepoError(w, r, err, "Failed to update automation")
		return
	}
	writeJSON(w, r, NewSuccessResponse(rule))
}

// Delete handles DELETE /api/automations/{id}
func (h *AutomationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteRule(r.Context(), h.owner(r), r.PathValue("id")); err != nil {
		h.writeRepoError(w, r, err, "Failed to delete automation")
		return
	}
	writeJSON(w, r, NewSuccessResponse(nil))
}

func (h *AutomationHandler) writeRepoError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, ports.ErrNotFound) {
		writeJSON(w, r, NotFoundResponse("Not found"))
		return
	}
	slog.Error(msg, "error", err, "automation_id", r.PathValue("id"))
	writeJSON(w, r, InternalErrorResponse(msg))
}
