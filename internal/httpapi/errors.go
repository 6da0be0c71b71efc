package httpapi

import (
	"context"
	"errors"
	"net/http"

	"sos-relay/internal/channel"
	"sos-relay/internal/models"
	"sos-relay/internal/service"

	"go.uber.org/zap"
)

const (
	kindValidation  = "Validation"
	kindPersistence = "Persistence"
	kindTimeout     = "Timeout"
	kindInternal    = "Internal"

	retryAfterSeconds = "30"
)

// writeDispatchError maps a Dispatch failure to its status code and body.
// Every body carries "error" and "kind".
func (h *Handler) writeDispatchError(w http.ResponseWriter, kind models.ChannelKind, err error) {
	var (
		verr *service.ValidationError
		perr *service.PersistenceError
		derr *service.DetachedError
		cerr *channel.Error
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": verr.Error(),
			"kind":  kindValidation,
			"field": verr.Field,
		})

	case errors.As(err, &perr):
		body := map[string]any{
			"error":   perr.Error(),
			"kind":    kindPersistence,
			"id":      perr.RecordID,
			"receipt": perr.Receipt,
		}
		if field := externalIDField(kind); field != "" {
			body[field] = perr.Receipt.ExternalIDValue()
		}
		if perr.Reconciling {
			body["reconciling"] = true
		}
		writeJSON(w, http.StatusBadGateway, body)

	case errors.As(err, &derr):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{
			"error": derr.Error(),
			"kind":  kindTimeout,
			"id":    derr.RecordID,
		})

	case errors.As(err, &cerr):
		body := map[string]any{
			"error": "Failed to send SOS via " + kind.Mode(),
			"kind":  string(cerr.Kind),
		}
		if cerr.ExternalID != "" {
			if field := externalIDField(kind); field != "" {
				body[field] = cerr.ExternalID
			}
		}
		// a reconciling send may still be stored, so a retry can duplicate it
		var rerr *service.ReconcilingError
		if errors.As(err, &rerr) {
			body["reconciling"] = true
			body["id"] = rerr.RecordID
		}
		if kind == models.ChannelSMS {
			body["details"] = cerr.Error()
		}
		if cerr.Retryable() {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
		writeJSON(w, http.StatusInternalServerError, body)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{
			"error": err.Error(),
			"kind":  kindTimeout,
		})

	default:
		h.logger.Error("Dispatch failed",
			zap.String("channel", string(kind)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to send SOS via " + kind.Mode(),
			"kind":  kindInternal,
		})
	}
}

// externalIDField names the response field carrying a channel's external id.
func externalIDField(kind models.ChannelKind) string {
	switch kind {
	case models.ChannelLedger:
		return "txHash"
	case models.ChannelSMS:
		return "messageSid"
	default:
		return ""
	}
}
