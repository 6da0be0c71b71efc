package channel

import (
	"context"
	"errors"
	"fmt"

	"sos-relay/internal/geo"
	"sos-relay/internal/models"

	"go.uber.org/zap"
)

// ErrGatewayNotConfigured is returned by gateways missing account credentials.
var ErrGatewayNotConfigured = errors.New("sms gateway not configured")

// Gateway is the cellular messaging capability.
type Gateway interface {
	SendMessage(ctx context.Context, to, from, body string) (string, error)
}

// SMSChannel delivers alerts as a text message to the reporter-supplied phone number.
type SMSChannel struct {
	gateway Gateway
	from    string
	logger  *zap.Logger
}

// NewSMSChannel creates the SMS channel sending from the given number.
func NewSMSChannel(gateway Gateway, from string, logger *zap.Logger) *SMSChannel {
	return &SMSChannel{gateway: gateway, from: from, logger: logger}
}

func (c *SMSChannel) Kind() models.ChannelKind { return models.ChannelSMS }

func (c *SMSChannel) Send(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error) {
	if c.gateway == nil {
		return models.Receipt{}, NotConfigured(models.ChannelSMS, "send", ErrGatewayNotConfigured)
	}
	if c.from == "" {
		return models.Receipt{}, NotConfigured(models.ChannelSMS, "send", errors.New("sender number not configured"))
	}
	if alert.Phone == "" {
		return models.Receipt{}, Permanent(models.ChannelSMS, "send", errors.New("destination phone number is empty"))
	}

	body, err := SMSBody(alert.Name, alert.Location)
	if err != nil {
		return models.Receipt{}, Permanent(models.ChannelSMS, "send", err)
	}

	sid, err := c.gateway.SendMessage(ctx, alert.Phone, c.from, body)
	if err != nil {
		ce := classifyGatewayError(err)
		c.logger.Warn("SMS send failed",
			zap.String("record_id", alert.RecordID),
			zap.String("kind", string(ce.Kind)),
			zap.Error(err),
		)
		return models.Receipt{}, ce
	}

	c.logger.Info("SMS sent",
		zap.String("record_id", alert.RecordID),
		zap.String("message_sid", sid),
	)

	return models.Receipt{
		ChannelKind: models.ChannelSMS,
		ExternalID:  models.StringPtr(sid),
	}, nil
}

// SMSBody renders the fixed alert text. The free-text message is deliberately
// replaced with a standard call for help.
func SMSBody(name, location string) (string, error) {
	coord, err := geo.Parse(location)
	if err != nil {
		return "", err
	}
	embed := geo.MapEmbed(coord, name, "Emergency! Immediate assistance required. Please respond ASAP.")
	return fmt.Sprintf("🚨 SOS Alert 🚨\nName: %s\nMessage: Emergency! Immediate assistance required. Please respond ASAP.\nLocation: %s", name, embed), nil
}

func classifyGatewayError(err error) *Error {
	const op = "send"

	if errors.Is(err, ErrGatewayNotConfigured) {
		return NotConfigured(models.ChannelSMS, op, err)
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		switch {
		case gwErr.invalidDestination():
			return Permanent(models.ChannelSMS, op, err)
		case gwErr.authFailure():
			return NotConfigured(models.ChannelSMS, op, err)
		default:
			return newError(classifyStatus(gwErr.StatusCode), models.ChannelSMS, op, err)
		}
	}

	return Transient(models.ChannelSMS, op, err)
}
