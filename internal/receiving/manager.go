package receiving

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
	"github.com/tradewind-ops/tradewind/internal/shared"
)

// LocationPicker is the external storage-location picker. The second return
// is false when the user cancelled the picker.
type LocationPicker interface {
	OpenPicker(ctx context.Context) (Location, bool, error)
}

// QualityResult carries the gate's per-line approved unit indices.
type QualityResult struct {
	Completed bool
	Approved  map[int64][]int
}

// QualityGate is the external pass/fail decision step.
type QualityGate interface {
	RunQualityCheck(ctx context.Context, orderID int64, units map[int64][]UnitRecord) (QualityResult, error)
}

// PricingRetryEnqueuer queues a pricing record for background
// re-propagation when the synchronous commit sub-step failed.
type PricingRetryEnqueuer interface {
	EnqueuePricingRetry(ctx context.Context, rec pricing.Record) error
}

// Manager owns the live staging sessions and enforces one active session
// per order. Sessions live in process memory for the lifetime of one
// workflow run; the redis lock only fences out a second process starting a
// session for the same order.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	byOrder  map[int64]uuid.UUID

	redis   *redis.Client
	lockTTL time.Duration

	engine  *pricing.Engine
	gateway InventoryGateway
	picker  LocationPicker
	gate    QualityGate
	retry   PricingRetryEnqueuer
	logger  *slog.Logger
}

// ManagerConfig groups Manager dependencies. Redis, picker, gate and retry
// are optional; the gateway and engine are not.
type ManagerConfig struct {
	Engine  *pricing.Engine
	Gateway InventoryGateway
	Redis   *redis.Client
	LockTTL time.Duration
	Picker  LocationPicker
	Gate    QualityGate
	Retry   PricingRetryEnqueuer
	Logger  *slog.Logger
}

// NewManager constructs the session manager.
func NewManager(cfg ManagerConfig) *Manager {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		byOrder:  make(map[int64]uuid.UUID),
		redis:    cfg.Redis,
		lockTTL:  ttl,
		engine:   cfg.Engine,
		gateway:  cfg.Gateway,
		picker:   cfg.Picker,
		gate:     cfg.Gate,
		retry:    cfg.Retry,
		logger:   logger,
	}
}

// StartSession opens a staging session for the order in the given mode.
// An order with no lines cannot be received, and an order with an open
// session cannot get a second one.
func (m *Manager) StartSession(ctx context.Context, order orders.PurchaseOrder, mode Mode) (*Session, error) {
	if len(order.Lines) == 0 {
		return nil, errors.New("receiving: order has no lines")
	}
	if mode != ModeFull && mode != ModePartial {
		return nil, errors.New("receiving: mode must be full or partial")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, open := m.byOrder[order.ID]; open {
		return nil, ErrSessionActive
	}
	session := newSession(order, mode, m.engine)
	if m.redis != nil {
		ok, err := m.redis.SetNX(ctx, shared.ReceiveLockKey(order.ID), session.ID.String(), m.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSessionActive
		}
	}
	m.sessions[session.ID] = session
	m.byOrder[order.ID] = session.ID
	m.logger.Info("receive session started",
		slog.String("session", session.ID.String()),
		slog.Int64("order", order.ID),
		slog.String("mode", string(mode)))
	return session, nil
}

// Get returns an open session by ID.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// PickLocation runs the external picker and attaches the result to a unit.
// A cancelled picker leaves the unit untouched.
func (m *Manager) PickLocation(ctx context.Context, id uuid.UUID, lineID int64, index int) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}
	if m.picker == nil {
		return errors.New("receiving: no location picker configured")
	}
	loc, picked, err := m.picker.OpenPicker(ctx)
	if err != nil {
		return err
	}
	if !picked {
		return nil
	}
	return session.AttachLocation(lineID, index, loc)
}

// RunQualityGate suspends the session and applies the external gate's
// decision. A cancelled gate leaves the session waiting at the gate stage.
func (m *Manager) RunQualityGate(ctx context.Context, id uuid.UUID) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}
	if m.gate == nil {
		return errors.New("receiving: no quality gate configured")
	}
	if err := session.RequestQualityGate(); err != nil {
		return err
	}
	units := make(map[int64][]UnitRecord)
	for _, line := range session.lines {
		if line.Receiving > 0 {
			units[line.LineID] = append([]UnitRecord(nil), line.Units...)
		}
	}
	result, err := m.gate.RunQualityCheck(ctx, session.OrderID, units)
	if err != nil {
		return err
	}
	if !result.Completed {
		return nil
	}
	return session.ApplyQualityDecision(result.Approved)
}

// Commit runs the commit pipeline. On full success the session is closed
// and its lock released; on partial failure the session stays open so the
// caller can retry only the failed sub-steps via the same call.
func (m *Manager) Commit(ctx context.Context, id uuid.UUID, note string) (CommitResult, error) {
	session, err := m.Get(id)
	if err != nil {
		return CommitResult{}, err
	}
	result, err := session.commit(ctx, m.gateway, note)
	if err != nil {
		var partial *PartialCommitError
		if errors.As(err, &partial) {
			m.logger.Warn("receive commit partially failed",
				slog.String("session", id.String()),
				slog.Int64("order", session.OrderID),
				slog.Any("error", err))
			m.enqueuePricingRetries(ctx, session, partial)
		}
		return result, err
	}
	m.close(ctx, session)
	m.logger.Info("receive committed",
		slog.String("session", id.String()),
		slog.Int64("order", session.OrderID),
		slog.String("status", string(result.NewStatus)),
		slog.Int("percent", result.Progress.PercentComplete))
	return result, nil
}

// Cancel abandons a session before commit with no side effects. Once the
// commit pipeline has started the session can no longer be cancelled.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}
	if session.stage == StageCommitting || session.stage == StageCommitted {
		return ErrInvalidStage
	}
	m.close(ctx, session)
	m.logger.Info("receive session cancelled", slog.String("session", id.String()), slog.Int64("order", session.OrderID))
	return nil
}

// enqueuePricingRetries hands failed pricing propagation to the background
// queue so the catalog converges even if the caller never retries by hand.
func (m *Manager) enqueuePricingRetries(ctx context.Context, session *Session, partial *PartialCommitError) {
	if m.retry == nil {
		return
	}
	for _, r := range partial.Results {
		if r.Step != SubStepPropagatePricing || r.Succeeded {
			continue
		}
		for _, line := range session.lines {
			if line.Receiving == 0 {
				continue
			}
			rec, ok := session.records[line.LineID]
			if !ok {
				continue
			}
			if err := m.retry.EnqueuePricingRetry(ctx, rec.Rounded()); err != nil {
				m.logger.Warn("enqueue pricing retry", slog.Int64("line", line.LineID), slog.Any("error", err))
			}
		}
	}
}

func (m *Manager) close(ctx context.Context, session *Session) {
	m.mu.Lock()
	delete(m.sessions, session.ID)
	delete(m.byOrder, session.OrderID)
	m.mu.Unlock()
	if m.redis != nil {
		if err := m.redis.Del(ctx, shared.ReceiveLockKey(session.OrderID)).Err(); err != nil {
			m.logger.Warn("release receive lock", slog.Any("error", err))
		}
	}
}
