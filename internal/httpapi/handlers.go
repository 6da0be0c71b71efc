package httpapi

import (
	"context"
	"net/http"
	"time"

	"sos-relay/internal/geo"
	"sos-relay/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Dispatcher sends one alert through a channel and stores its record.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind models.ChannelKind, input models.AlertInput) (*models.AlertRecord, error)
}

// Queries serves the read side.
type Queries interface {
	Today(ctx context.Context) ([]models.EnrichedAlert, error)
}

// Handler serves the SOS routes.
type Handler struct {
	dispatcher Dispatcher
	queries    Queries
	logger     *zap.Logger
	now        func() time.Time
}

func NewHandler(dispatcher Dispatcher, queries Queries, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		queries:    queries,
		logger:     logger,
		now:        time.Now,
	}
}

// Routes builds the router with request id, recovery and access logging.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(h.logger),
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/send-sos", h.send(models.ChannelLedger))
	r.Post("/send-sos-sms", h.send(models.ChannelSMS))
	r.Post("/send-sos-offline", h.send(models.ChannelOffline))
	r.Post("/send-sos-satellite", h.send(models.ChannelSatellite))

	r.Get("/sos-today", h.GetToday)
	r.Get("/sos-today/export", h.ExportToday)
	return r
}

func (h *Handler) send(kind models.ChannelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in models.AlertInput
		if err := readBodyJSON(r, maxBodyBytes, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "invalid JSON body",
				"kind":  kindValidation,
			})
			return
		}

		record, err := h.dispatcher.Dispatch(r.Context(), kind, in)
		if err != nil {
			h.writeDispatchError(w, kind, err)
			return
		}

		writeJSON(w, http.StatusOK, h.successBody(kind, in.Normalized(), record))
	}
}

// successBody uses the caller's plaintext for the map popup; record.Message may
// hold ciphertext.
func (h *Handler) successBody(kind models.ChannelKind, in models.AlertInput, record *models.AlertRecord) map[string]any {
	body := map[string]any{
		"status": "Success",
		"mode":   kind.Mode(),
		"id":     record.ID,
	}
	if coord, err := geo.Parse(record.Location); err == nil {
		body["mapEmbed"] = geo.MapEmbed(coord, record.Name, in.Message)
	}
	if field := externalIDField(kind); field != "" {
		body[field] = record.Receipt.ExternalIDValue()
	}
	return body
}

// todayItem is the list shape returned by GET /sos-today.
type todayItem struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	MapLink    *string   `json:"mapLink"`
	Channel    string    `json:"channel"`
	ExternalID *string   `json:"externalId"`
}

func toTodayItem(a models.EnrichedAlert) todayItem {
	return todayItem{
		ID:         a.ID,
		Name:       a.Name,
		Location:   a.Location,
		Message:    a.Message,
		Timestamp:  a.CreatedAt,
		MapLink:    a.MapLink,
		Channel:    string(a.ChannelKind),
		ExternalID: a.Receipt.ExternalID,
	}
}

// GetToday lists today's alerts, newest first.
func (h *Handler) GetToday(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.queries.Today(r.Context())
	if err != nil {
		h.logger.Error("Failed to fetch today's alerts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch SOS alerts"})
		return
	}

	items := make([]todayItem, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, toTodayItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}
