package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sos-relay/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrRelayNotConfigured is returned by relays without an endpoint or topic.
var ErrRelayNotConfigured = errors.New("satellite relay not configured")

// RelayMessage is the payload forwarded to the satellite uplink.
type RelayMessage struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
}

// Relay forwards a message to a satellite uplink.
type Relay interface {
	Forward(ctx context.Context, msg RelayMessage) error
}

// SatelliteChannel is a best-effort forward to a satellite relay. There is no
// delivery confirmation, so the receipt carries no external id.
type SatelliteChannel struct {
	relay  Relay
	logger *zap.Logger
}

// NewSatelliteChannel creates the satellite channel.
func NewSatelliteChannel(relay Relay, logger *zap.Logger) *SatelliteChannel {
	return &SatelliteChannel{relay: relay, logger: logger}
}

func (c *SatelliteChannel) Kind() models.ChannelKind { return models.ChannelSatellite }

func (c *SatelliteChannel) Send(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error) {
	if c.relay == nil {
		return models.Receipt{}, NotConfigured(models.ChannelSatellite, "forward", ErrRelayNotConfigured)
	}

	err := c.relay.Forward(ctx, RelayMessage{
		ID:       alert.RecordID,
		Name:     alert.Name,
		Location: alert.Location,
		Message:  alert.Message,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("Satellite relay failed",
			zap.String("record_id", alert.RecordID),
			zap.Error(err),
		)
		if errors.Is(err, ErrRelayNotConfigured) {
			return models.Receipt{}, NotConfigured(models.ChannelSatellite, "forward", err)
		}
		return models.Receipt{}, Transient(models.ChannelSatellite, "forward", err)
	}

	c.logger.Info("Alert forwarded to satellite relay", zap.String("record_id", alert.RecordID))
	return models.Receipt{ChannelKind: models.ChannelSatellite}, nil
}

// HTTPRelay posts messages to an HTTP uplink.
type HTTPRelay struct {
	httpClient *resty.Client
	endpoint   string
}

// NewHTTPRelay creates an HTTP relay. Forwarding is idempotent on the relay side by id,
// so transport-level retries are allowed.
func NewHTTPRelay(endpoint string, timeout time.Duration) *HTTPRelay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
	return &HTTPRelay{httpClient: client, endpoint: endpoint}
}

func (r *HTTPRelay) Forward(ctx context.Context, msg RelayMessage) error {
	if r.endpoint == "" {
		return ErrRelayNotConfigured
	}

	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		Post(r.endpoint)
	if err != nil {
		return fmt.Errorf("failed to call satellite relay: %w", err)
	}
	if !resp.IsSuccess() {
		return &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}
	return nil
}

// Publisher is the MQTT publish capability.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTRelay publishes messages to a satellite gateway over MQTT.
type MQTTRelay struct {
	publisher Publisher
	topic     string
	qos       byte
}

// NewMQTTRelay creates an MQTT relay publishing on topic.
func NewMQTTRelay(publisher Publisher, topic string, qos byte) *MQTTRelay {
	return &MQTTRelay{publisher: publisher, topic: topic, qos: qos}
}

func (r *MQTTRelay) Forward(ctx context.Context, msg RelayMessage) error {
	if r.publisher == nil || r.topic == "" {
		return ErrRelayNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.publisher.Publish(r.topic, r.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.topic, err)
	}
	return nil
}
