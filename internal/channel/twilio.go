package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultTwilioBaseURL is the public REST endpoint.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// GatewayError is a structured gateway rejection.
type GatewayError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("sms gateway error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

func (e *GatewayError) invalidDestination() bool {
	switch e.Code {
	case 21211, 21214, 21408, 21610, 21614:
		return true
	}
	return false
}

func (e *GatewayError) authFailure() bool {
	return e.Code == 20003 || e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TwilioConfig holds gateway credentials.
type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// TwilioGateway sends messages through the Twilio Messages API.
type TwilioGateway struct {
	httpClient *resty.Client
	cfg        TwilioConfig
	logger     *zap.Logger
}

// NewTwilioGateway creates the gateway.
func NewTwilioGateway(cfg TwilioConfig, logger *zap.Logger) *TwilioGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	// Message creation is not idempotent, so no resty retries here either.
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")

	return &TwilioGateway{httpClient: client, cfg: cfg, logger: logger}
}

// SendMessage creates a message and returns its SID.
func (g *TwilioGateway) SendMessage(ctx context.Context, to, from, body string) (string, error) {
	if g.cfg.AccountSID == "" || g.cfg.AuthToken == "" {
		return "", ErrGatewayNotConfigured
	}

	var msg twilioMessage
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetPathParam("sid", g.cfg.AccountSID).
		SetFormData(map[string]string{
			"To":   to,
			"From": from,
			"Body": body,
		}).
		SetResult(&msg).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return "", fmt.Errorf("failed to call sms gateway: %w", err)
	}

	if resp.IsError() {
		gwErr := &GatewayError{StatusCode: resp.StatusCode(), Message: resp.Status()}
		var apiErr twilioError
		if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Message != "" {
			gwErr.Code = apiErr.Code
			gwErr.Message = apiErr.Message
		}
		g.logger.Debug("SMS gateway rejected message",
			zap.Int("status_code", gwErr.StatusCode),
			zap.Int("code", gwErr.Code),
		)
		return "", gwErr
	}

	if msg.SID == "" {
		return "", &GatewayError{StatusCode: resp.StatusCode(), Message: "response carried no message sid"}
	}
	return msg.SID, nil
}
