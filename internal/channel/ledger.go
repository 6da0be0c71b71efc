package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sos-relay/internal/models"

	"go.uber.org/zap"
)

// DefaultConfirmTimeout bounds the single confirmation wait after a broadcast.
const DefaultConfirmTimeout = 60 * time.Second

var (
	// ErrLedgerNotConfigured is returned by ledger clients missing endpoint, contract or signer.
	ErrLedgerNotConfigured = errors.New("ledger client not configured")
	// ErrConfirmationTimeout means the transaction was not included within the wait.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	// ErrTransactionReverted means the transaction was included with a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Confirmation describes the inclusion of a transaction.
type Confirmation struct {
	TxHash      string
	BlockNumber uint64
	ConfirmedAt time.Time
}

// LedgerClient is the ledger-write capability: broadcast sendSOS and wait for inclusion.
type LedgerClient interface {
	SubmitSOS(ctx context.Context, name, location, message string) (string, error)
	WaitConfirmed(ctx context.Context, txHash string) (Confirmation, error)
}

// LedgerChannel records alerts on an append-only ledger contract. Both the broadcast
// and the bounded confirmation wait must succeed.
type LedgerChannel struct {
	client         LedgerClient
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// NewLedgerChannel creates the ledger channel. confirmTimeout <= 0 uses DefaultConfirmTimeout.
func NewLedgerChannel(client LedgerClient, confirmTimeout time.Duration, logger *zap.Logger) *LedgerChannel {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &LedgerChannel{
		client:         client,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}
}

func (c *LedgerChannel) Kind() models.ChannelKind { return models.ChannelLedger }

func (c *LedgerChannel) Send(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error) {
	if c.client == nil {
		return models.Receipt{}, NotConfigured(models.ChannelLedger, "broadcast", ErrLedgerNotConfigured)
	}

	txHash, err := c.client.SubmitSOS(ctx, alert.Name, alert.Location, alert.Message)
	if err != nil {
		return models.Receipt{}, classifyLedgerError(err)
	}
	if txHash == "" {
		return models.Receipt{}, Transient(models.ChannelLedger, "broadcast", fmt.Errorf("node returned an empty transaction hash"))
	}

	c.logger.Info("Ledger transaction broadcast",
		zap.String("record_id", alert.RecordID),
		zap.String("tx_hash", txHash),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	conf, err := c.client.WaitConfirmed(waitCtx, txHash)
	if err != nil {
		// Broadcast is irrevocable: surface the hash so it can be reconciled.
		ce := Transient(models.ChannelLedger, "confirm", err)
		ce.ExternalID = txHash
		c.logger.Warn("Ledger transaction not confirmed",
			zap.String("record_id", alert.RecordID),
			zap.String("tx_hash", txHash),
			zap.Error(err),
		)
		return models.Receipt{}, ce
	}

	confirmedAt := conf.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now()
	}

	c.logger.Info("Ledger transaction confirmed",
		zap.String("record_id", alert.RecordID),
		zap.String("tx_hash", txHash),
		zap.Uint64("block_number", conf.BlockNumber),
	)

	return models.Receipt{
		ChannelKind: models.ChannelLedger,
		ExternalID:  &txHash,
		ConfirmedAt: &confirmedAt,
	}, nil
}

// Confirm waits (bounded) for a transaction broadcast earlier, e.g. by a request that
// went away before its confirmation arrived.
func (c *LedgerChannel) Confirm(ctx context.Context, txHash string) (models.Receipt, error) {
	if c.client == nil {
		return models.Receipt{}, NotConfigured(models.ChannelLedger, "confirm", ErrLedgerNotConfigured)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	conf, err := c.client.WaitConfirmed(waitCtx, txHash)
	if err != nil {
		kind := TransientUpstream
		if errors.Is(err, ErrTransactionReverted) {
			kind = PermanentRejected
		}
		ce := newError(kind, models.ChannelLedger, "confirm", err)
		ce.ExternalID = txHash
		return models.Receipt{}, ce
	}

	confirmedAt := conf.ConfirmedAt
	return models.Receipt{
		ChannelKind: models.ChannelLedger,
		ExternalID:  &txHash,
		ConfirmedAt: &confirmedAt,
	}, nil
}

func classifyLedgerError(err error) *Error {
	const op = "broadcast"

	if errors.Is(err, ErrLedgerNotConfigured) {
		return NotConfigured(models.ChannelLedger, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(models.ChannelLedger, op, err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return newError(classifyStatus(statusErr.StatusCode), models.ChannelLedger, op, err)
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch {
		case rpcErr.Code == 3 || strings.Contains(strings.ToLower(rpcErr.Message), "execution reverted"):
			return Permanent(models.ChannelLedger, op, err)
		case rpcErr.Code == -32602:
			return Permanent(models.ChannelLedger, op, err)
		case rpcErr.Code == -32601:
			// eth_sendTransaction disabled or no signer behind the endpoint
			return NotConfigured(models.ChannelLedger, op, err)
		case strings.Contains(strings.ToLower(rpcErr.Message), "unknown account"):
			return NotConfigured(models.ChannelLedger, op, err)
		default:
			return Transient(models.ChannelLedger, op, err)
		}
	}

	return Transient(models.ChannelLedger, op, err)
}
