package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sos-relay/internal/bus"
	"sos-relay/internal/channel"
	"sos-relay/internal/crypto"
	"sos-relay/internal/geo"
	"sos-relay/internal/models"
	"sos-relay/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPersistTimeout = 10 * time.Second

// ReconciliationRecorder accepts sends whose outcome must be resolved later.
type ReconciliationRecorder interface {
	Record(ctx context.Context, entry models.ReconcileEntry) error
}

// EventPublisher publishes domain events. Failures never fail a dispatch.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// DispatcherConfig sets per-kind budgets and task timeouts.
type DispatcherConfig struct {
	LedgerWorkers  int
	Workers        int
	LedgerTimeout  time.Duration
	DefaultTimeout time.Duration
	PersistTimeout time.Duration
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*Dispatcher)

// WithReconciliation sets where unresolved sends are recorded.
func WithReconciliation(r ReconciliationRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.reconcile = r }
}

// WithEvents sets the publisher for persisted-alert events.
func WithEvents(p EventPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.events = p }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(f func() string) DispatcherOption {
	return func(d *Dispatcher) { d.newID = f }
}

// Dispatcher turns an AlertInput into a delivered, persisted AlertRecord.
type Dispatcher struct {
	registry  *channel.Registry
	store     repository.AlertStore
	encrypter crypto.Encrypter
	pool      *TaskPool
	reconcile ReconciliationRecorder
	events    EventPublisher
	newID     func() string
	cfg       DispatcherConfig
	logger    *zap.Logger
}

type dispatchResult struct {
	record *models.AlertRecord
	err    error
}

// NewDispatcher creates a dispatcher. A nil encrypter means identity.
func NewDispatcher(registry *channel.Registry, store repository.AlertStore, encrypter crypto.Encrypter, cfg DispatcherConfig, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if encrypter == nil {
		encrypter = crypto.Noop{}
	}
	if cfg.LedgerWorkers <= 0 {
		cfg.LedgerWorkers = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 90 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}

	d := &Dispatcher{
		registry:  registry,
		store:     store,
		encrypter: encrypter,
		pool: NewTaskPool(map[models.ChannelKind]int{
			models.ChannelLedger: cfg.LedgerWorkers,
		}, cfg.Workers),
		newID:  func() string { return uuid.New().String() },
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates input, sends it through the channel for kind and stores the
// resulting record. The send runs on the kind's task pool with a context detached
// from ctx: if ctx ends first the caller gets a *DetachedError and the record is
// still stored when the send completes.
func (d *Dispatcher) Dispatch(ctx context.Context, kind models.ChannelKind, input models.AlertInput) (*models.AlertRecord, error) {
	in := input.Normalized()

	ch, err := d.validate(kind, in)
	if err != nil {
		return nil, err
	}

	id := d.newID()

	sealed, err := d.encrypter.Encrypt(in.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message for alert %s: %w", id, err)
	}
	out := models.OutboundAlert{RecordID: id, AlertInput: in}
	out.Message = sealed

	results := make(chan dispatchResult, 1)
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout(kind))

	err = d.pool.Submit(kind, func() {
		defer cancel()
		record, err := d.run(taskCtx, ch, out)
		if ctx.Err() != nil {
			d.logDetachedOutcome(out, record, err)
		}
		results <- dispatchResult{record: record, err: err}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule alert %s: %w", id, err)
	}

	select {
	case res := <-results:
		return res.record, res.err
	case <-ctx.Done():
		d.logger.Warn("Caller stopped waiting, alert continues in background",
			zap.String("record_id", id),
			zap.String("channel", string(kind)),
		)
		return nil, &DetachedError{RecordID: id, Err: ctx.Err()}
	}
}

func (d *Dispatcher) validate(kind models.ChannelKind, in models.AlertInput) (channel.Channel, error) {
	ch, ok := d.registry.Get(kind)
	if !ok {
		return nil, &ValidationError{Field: "channel", Reason: fmt.Sprintf("unknown channel kind %q", kind)}
	}
	if in.Message == "" {
		return nil, &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if in.Location == "" {
		return nil, &ValidationError{Field: "location", Reason: "must not be empty"}
	}
	if _, err := geo.Parse(in.Location); err != nil {
		return nil, &ValidationError{Field: "location", Reason: err.Error()}
	}
	if kind == models.ChannelSMS && in.Phone == "" {
		return nil, &ValidationError{Field: "phone", Reason: "required for sms"}
	}
	return ch, nil
}

func (d *Dispatcher) timeout(kind models.ChannelKind) time.Duration {
	if kind == models.ChannelLedger {
		return d.cfg.LedgerTimeout
	}
	return d.cfg.DefaultTimeout
}

// run is the task body: send, then store. It executes exactly once per dispatch.
func (d *Dispatcher) run(ctx context.Context, ch channel.Channel, out models.OutboundAlert) (*models.AlertRecord, error) {
	receipt, err := ch.Send(ctx, out)
	if err != nil {
		if ce, ok := channel.AsError(err); ok && ce.ExternalID != "" {
			if d.recordUnresolved(out, ch.Kind(), ce.ExternalID, err.Error()) {
				return nil, &ReconcilingError{RecordID: out.RecordID, ExternalID: ce.ExternalID, Err: err}
			}
		}
		return nil, err
	}
	if receipt.ChannelKind == "" {
		receipt.ChannelKind = ch.Kind()
	}

	record := &models.AlertRecord{
		ID:          out.RecordID,
		Name:        out.Name,
		Location:    out.Location,
		Message:     out.Message,
		ChannelKind: ch.Kind(),
		Receipt:     receipt,
	}

	// The send already happened; storing it must not inherit the send deadline.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PersistTimeout)
	defer cancel()

	if _, err := d.store.Append(persistCtx, record); err != nil {
		d.logger.Error("Failed to store alert after successful send",
			zap.String("record_id", record.ID),
			zap.String("channel", string(record.ChannelKind)),
			zap.String("external_id", receipt.ExternalIDValue()),
			zap.Error(err),
		)
		reconciling := false
		if id := receipt.ExternalIDValue(); id != "" {
			reconciling = d.recordUnresolved(out, ch.Kind(), id, "store failed: "+err.Error())
		}
		return nil, &PersistenceError{RecordID: record.ID, Receipt: receipt, Reconciling: reconciling, Err: err}
	}

	d.publishPersisted(record)
	return record, nil
}

// recordUnresolved reports whether the entry reached the reconciliation log.
func (d *Dispatcher) recordUnresolved(out models.OutboundAlert, kind models.ChannelKind, externalID, reason string) bool {
	if d.reconcile == nil {
		d.logger.Warn("Unresolved send not recorded, no reconciliation log",
			zap.String("record_id", out.RecordID),
			zap.String("external_id", externalID),
			zap.String("reason", reason),
		)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistTimeout)
	defer cancel()

	err := d.reconcile.Record(ctx, models.ReconcileEntry{
		RecordID:   out.RecordID,
		Kind:       kind,
		ExternalID: externalID,
		Name:       out.Name,
		Location:   out.Location,
		Message:    out.Message,
		Reason:     reason,
	})
	if err != nil {
		d.logger.Error("Failed to record unresolved send",
			zap.String("record_id", out.RecordID),
			zap.String("external_id", externalID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (d *Dispatcher) publishPersisted(record *models.AlertRecord) {
	if d.events == nil {
		return
	}
	err := d.events.Publish(bus.SubjectAlertPersisted, bus.AlertPersisted{
		ID:         record.ID,
		Channel:    string(record.ChannelKind),
		ExternalID: record.Receipt.ExternalIDValue(),
		Location:   record.Location,
		CreatedAt:  record.CreatedAt,
	})
	if err != nil {
		d.logger.Warn("Failed to publish alert event",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) logDetachedOutcome(out models.OutboundAlert, record *models.AlertRecord, err error) {
	var persistErr *PersistenceError
	switch {
	case err == nil:
		d.logger.Info("Background alert completed",
			zap.String("record_id", record.ID),
			zap.String("external_id", record.Receipt.ExternalIDValue()),
		)
	case errors.As(err, &persistErr):
		// already logged at error level
	default:
		d.logger.Error("Background alert failed",
			zap.String("record_id", out.RecordID),
			zap.String("kind", string(channel.KindOf(err))),
			zap.Error(err),
		)
	}
}

// Kinds lists the channel kinds this dispatcher can send through.
func (d *Dispatcher) Kinds() []models.ChannelKind {
	return d.registry.Kinds()
}

// Close stops accepting dispatches and waits for in-flight sends.
func (d *Dispatcher) Close(ctx context.Context) error {
	return d.pool.Close(ctx)
}
