package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sos-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	sid            string
	err            error
	to, from, body string
}

func (g *fakeGateway) SendMessage(_ context.Context, to, from, body string) (string, error) {
	g.to, g.from, g.body = to, from, body
	return g.sid, g.err
}

func TestSMSBody(t *testing.T) {
	body, err := SMSBody("Asha", "12.97,77.59")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(body, "🚨 SOS Alert 🚨\nName: Asha\nMessage: Emergency! Immediate assistance required. Please respond ASAP.\nLocation: "))
	assert.Contains(t, body, "mlat=12.97")
	assert.Contains(t, body, "mlon=77.59")
	assert.Contains(t, body, "&layers=O&popup=")

	_, err = SMSBody("Asha", "north pole")
	assert.Error(t, err)
}

func TestSMSChannel_Send_Success(t *testing.T) {
	gw := &fakeGateway{sid: "SM123"}
	ch := NewSMSChannel(gw, "+15550009999", zap.NewNop())

	receipt, err := ch.Send(context.Background(), testAlert())
	require.NoError(t, err)

	assert.Equal(t, models.ChannelSMS, receipt.ChannelKind)
	assert.Equal(t, "SM123", receipt.ExternalIDValue())
	assert.Nil(t, receipt.ConfirmedAt)
	assert.Equal(t, "+15550001111", gw.to)
	assert.Equal(t, "+15550009999", gw.from)
	assert.NotContains(t, gw.body, "help")
}

func TestSMSChannel_Send_Unconfigured(t *testing.T) {
	_, err := NewSMSChannel(&fakeGateway{sid: "SM1"}, "", zap.NewNop()).Send(context.Background(), testAlert())
	assert.Equal(t, Unconfigured, KindOf(err))

	_, err = NewSMSChannel(nil, "+1555", zap.NewNop()).Send(context.Background(), testAlert())
	assert.Equal(t, Unconfigured, KindOf(err))

	_, err = NewSMSChannel(&fakeGateway{err: ErrGatewayNotConfigured}, "+1555", zap.NewNop()).Send(context.Background(), testAlert())
	assert.Equal(t, Unconfigured, KindOf(err))
}

func TestSMSChannel_Send_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"invalid number", &GatewayError{StatusCode: 400, Code: 21211, Message: "invalid To"}, PermanentRejected},
		{"unsubscribed", &GatewayError{StatusCode: 400, Code: 21610}, PermanentRejected},
		{"auth code", &GatewayError{StatusCode: 401, Code: 20003}, Unconfigured},
		{"forbidden", &GatewayError{StatusCode: 403}, Unconfigured},
		{"rate limited", &GatewayError{StatusCode: 429, Code: 20429}, TransientUpstream},
		{"server error", &GatewayError{StatusCode: 503}, TransientUpstream},
		{"other 4xx", &GatewayError{StatusCode: 400, Code: 21602}, PermanentRejected},
		{"network", errors.New("connection reset"), TransientUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewSMSChannel(&fakeGateway{err: tt.err}, "+1555", zap.NewNop())
			_, err := ch.Send(context.Background(), testAlert())
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestTwilioGateway_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001111", r.PostForm.Get("To"))
		assert.Equal(t, "+15550009999", r.PostForm.Get("From"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	gw := NewTwilioGateway(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "secret"}, zap.NewNop())
	sid, err := gw.SendMessage(context.Background(), "+15550001111", "+15550009999", "body")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
}

func TestTwilioGateway_SendMessage_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	}))
	defer srv.Close()

	gw := NewTwilioGateway(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "secret"}, zap.NewNop())
	_, err := gw.SendMessage(context.Background(), "123", "+1555", "body")

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, 21211, gwErr.Code)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)

	ch := NewSMSChannel(gw, "+1555", zap.NewNop())
	_, err = ch.Send(context.Background(), testAlert())
	assert.Equal(t, PermanentRejected, KindOf(err))
}

func TestTwilioGateway_NotConfigured(t *testing.T) {
	gw := NewTwilioGateway(TwilioConfig{}, zap.NewNop())
	_, err := gw.SendMessage(context.Background(), "+1", "+2", "b")
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)
}
