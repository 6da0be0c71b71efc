package channel

import (
	"errors"
	"testing"

	"sos-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(
		NewSMSChannel(nil, "", zap.NewNop()),
		NewOfflineChannel(nil, zap.NewNop()),
	)
	require.NoError(t, err)

	ch, ok := reg.Get(models.ChannelSMS)
	require.True(t, ok)
	assert.Equal(t, models.ChannelSMS, ch.Kind())

	_, ok = reg.Get(models.ChannelLedger)
	assert.False(t, ok)

	assert.Error(t, reg.Register(NewSMSChannel(nil, "", zap.NewNop())))
	assert.Equal(t, []models.ChannelKind{models.ChannelOffline, models.ChannelSMS}, reg.Kinds())
}

func TestError_Formatting(t *testing.T) {
	err := Transient(models.ChannelLedger, "confirm", errors.New("timeout"))
	err.ExternalID = "0xabc"

	assert.Equal(t, "ledger channel confirm: TransientUpstream (external id 0xabc): timeout", err.Error())
	assert.True(t, err.Retryable())
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, Unconfigured, classifyStatus(401))
	assert.Equal(t, Unconfigured, classifyStatus(403))
	assert.Equal(t, TransientUpstream, classifyStatus(429))
	assert.Equal(t, TransientUpstream, classifyStatus(500))
	assert.Equal(t, PermanentRejected, classifyStatus(404))
}
