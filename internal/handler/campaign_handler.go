package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/chatnationwork/broadcast-backend/internal/errors"
	"github.com/chatnationwork/broadcast-backend/internal/model"
	"github.com/chatnationwork/broadcast-backend/internal/quota"
	"github.com/chatnationwork/broadcast-backend/internal/repository"
	"github.com/chatnationwork/broadcast-backend/internal/trigger"
)

// Launcher is the planner surface the HTTP layer drives.
type Launcher interface {
	Launch(ctx context.Context, campaignID int) error
	Resume(ctx context.Context, campaignID int) error
}

type TriggerFirer interface {
	Fire(ctx context.Context, triggerName string, event trigger.Event) (int, error)
}

type QuotaReader interface {
	GetStatus(ctx context.Context, channelID string) (quota.Status, error)
}

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Campaigns  repository.CampaignRepositoryInterface
	Deliveries repository.DeliveryRepositoryInterface
	Planner    Launcher
	Triggers   TriggerFirer
	Quota      QuotaReader
	Logger     zerolog.Logger
}

func (h *CampaignHandler) Routes(r chi.Router) {
	r.Post("/campaigns", h.CreateCampaign)
	r.Get("/campaigns", h.ListCampaigns)
	r.Get("/campaigns/{id}", h.GetCampaign)
	r.Post("/campaigns/{id}/launch", h.LaunchCampaign)
	r.Post("/campaigns/{id}/cancel", h.CancelCampaign)
	r.Post("/campaigns/{id}/pause", h.PauseCampaign)
	r.Post("/campaigns/{id}/resume", h.ResumeCampaign)
	r.Get("/channels/{channelID}/quota", h.QuotaStatus)
	r.Post("/triggers/{name}", h.FireTrigger)
	r.Post("/deliveries/{id}/receipt", h.ApplyReceipt)
}

func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID       int             `json:"tenant_id"`
		Name           string          `json:"name"`
		ChannelID      string          `json:"channel_id"`
		Template       string          `json:"template"`
		AudienceFilter json.RawMessage `json:"audience_filter,omitempty"`
		TriggerName    string          `json:"trigger_name,omitempty"`
		TriggerKey     string          `json:"trigger_key,omitempty"`
		TriggerValue   string          `json:"trigger_value,omitempty"`
		ScheduledAt    *string         `json:"scheduled_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Template == "" {
		http.Error(w, "template cannot be empty", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		TenantID:       body.TenantID,
		Name:           body.Name,
		ChannelID:      body.ChannelID,
		Template:       body.Template,
		AudienceFilter: body.AudienceFilter,
		TriggerName:    body.TriggerName,
		TriggerKey:     body.TriggerKey,
		TriggerValue:   body.TriggerValue,
		Status:         model.CampaignDraft,
	}
	if body.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *body.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduled_at: "+err.Error(), http.StatusBadRequest)
			return
		}
		campaign.ScheduledAt = &t
		campaign.Status = model.CampaignScheduled
	}

	if err := h.Campaigns.Create(campaign); err != nil {
		http.Error(w, "failed to create campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := h.Campaigns.ListCampaigns(offset, pageSize, status)
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	campaign, err := h.Campaigns.GetByID(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	stats, err := h.Deliveries.CountByStatus(id)
	if err != nil {
		http.Error(w, "failed to fetch stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign": campaign,
		"stats":    stats,
	})
}

// LaunchCampaign kicks the planner. Quota refusals surface as 422 with the
// human-readable reason so the operator can act on it.
func (h *CampaignHandler) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if err := h.Planner.Launch(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	campaign, err := h.Campaigns.GetByID(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

// CancelCampaign only changes status; in-flight jobs settle on their own and
// workers drop anything still queued for the campaign.
func (h *CampaignHandler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.CampaignCancelled, "cancelled")
}

func (h *CampaignHandler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.CampaignPaused, "paused")
}

func (h *CampaignHandler) transition(w http.ResponseWriter, r *http.Request, to model.CampaignStatus, verb string) {
	id, err := urlID(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	campaign, err := h.Campaigns.GetByID(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if campaign.Status.IsTerminal() {
		h.writeError(w, appErrors.NewInvalidCampaignStatus(id, campaign.Status, verb))
		return
	}
	if to == model.CampaignPaused && campaign.Status != model.CampaignRunning {
		h.writeError(w, appErrors.NewInvalidCampaignStatus(id, campaign.Status, verb))
		return
	}

	if err := h.Campaigns.UpdateStatus(id, to); err != nil {
		http.Error(w, "failed to update campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(to)})
}

func (h *CampaignHandler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if err := h.Planner.Resume(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	campaign, err := h.Campaigns.GetByID(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (h *CampaignHandler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	status, err := h.Quota.GetStatus(r.Context(), channelID)
	if err != nil {
		http.Error(w, "failed to fetch quota status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *CampaignHandler) FireTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var event trigger.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	fed, err := h.Triggers.Fire(r.Context(), name, event)
	if err != nil {
		http.Error(w, "failed to process trigger: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"trigger":   name,
		"campaigns": fed,
	})
}

// ApplyReceipt consumes a delivery receipt forwarded by the webhook layer.
// Receipts only ever move a record forward; stale ones are reported as
// not applied rather than as errors.
func (h *CampaignHandler) ApplyReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}

	var body struct {
		Status model.DeliveryStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	applied, err := h.Deliveries.AdvanceStatus(id, body.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"applied": applied,
		"status":  body.Status,
	})
}

func urlID(r *http.Request, param string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, param))
}

// writeError maps pipeline errors to HTTP statuses.
func (h *CampaignHandler) writeError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrCampaignNotFound
	var invalidStatus *appErrors.ErrInvalidCampaignStatus
	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case appErrors.IsQuotaExceeded(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &invalidStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.Logger.Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
