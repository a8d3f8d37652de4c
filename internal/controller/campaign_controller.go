// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", c.ListCampaigns)
		r.Post("/", c.CreateCampaign)
		r.Get("/{id}", c.GetCampaignDetails)
		r.Post("/{id}/send", c.SendCampaign)
		r.Post("/{id}/fail", c.FailCampaign)
	})
}

func campaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid campaign id", appErrors.ErrInvalidInput)
	}
	return id, nil
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.Fail(w, fmt.Errorf("%w: invalid body", appErrors.ErrInvalidInput), nil)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, handler.Response{Success: true, Message: "campaign created", Result: campaign})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	segment := r.URL.Query().Get("segment")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, segment, status)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}

	handler.OK(w, "campaigns listed", map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}

	details, err := c.CampaignService.GetCampaignDetails(r.Context(), id)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}
	handler.OK(w, "campaign found", details)
}

// SendCampaign moves a draft to sending; the dispatcher picks it up on its next tick.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}

	campaign, err := c.CampaignService.StartSending(r.Context(), id)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}
	handler.OK(w, "campaign sending", campaign)
}

func (c *CampaignController) FailCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}

	campaign, err := c.CampaignService.MarkFailed(r.Context(), id)
	if err != nil {
		handler.Fail(w, err, nil)
		return
	}
	handler.OK(w, "campaign marked failed", campaign)
}
