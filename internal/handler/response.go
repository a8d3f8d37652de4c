package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func OK(w http.ResponseWriter, message string, result any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Message: message, Result: result})
}

// Fail writes err with the status StatusFor picks.
func Fail(w http.ResponseWriter, err error, result any) {
	WriteJSON(w, StatusFor(err), Response{Success: false, Message: err.Error(), Result: result})
}

func StatusFor(err error) int {
	switch {
	case appErrors.IsCampaignNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, appErrors.ErrInvalidInput), errors.Is(err, appErrors.ErrUnknownSegment):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrCampaignNotDraft),
		errors.Is(err, appErrors.ErrCampaignAlreadySending),
		errors.Is(err, appErrors.ErrCampaignNotSending),
		errors.Is(err, appErrors.ErrCursorConflict):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrInvalidCampaign):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
