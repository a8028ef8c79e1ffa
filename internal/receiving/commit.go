package receiving

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
)

// Commit sub-steps, in the order they run. They touch different external
// aggregates and are deliberately not wrapped in one transaction; a failed
// step is reported, never rolled back, and only failed steps are retried.
type SubStep string

const (
	SubStepPropagatePricing SubStep = "propagate_pricing"
	SubStepPersistUnits     SubStep = "persist_units"
	SubStepFinalize         SubStep = "finalize"
)

// SubStepResult records one sub-step outcome.
type SubStepResult struct {
	Step      SubStep
	Succeeded bool
	Err       error
}

// PartialCommitError reports a commit where some sub-steps failed after
// others succeeded. The caller decides whether to retry the failed ones.
type PartialCommitError struct {
	Results []SubStepResult
}

func (e *PartialCommitError) Error() string {
	var failed []string
	for _, r := range e.Results {
		if !r.Succeeded {
			failed = append(failed, string(r.Step))
		}
	}
	return fmt.Sprintf("receiving: commit partially failed: %s", strings.Join(failed, ", "))
}

// FinalizeInput is the payload handed to the inventory gateway's final
// step. SessionID scopes the gateway's idempotency fence to this staging
// session: retries of the same session are no-ops, while a later session
// receiving an identical batch shape goes through.
type FinalizeInput struct {
	SessionID  uuid.UUID
	OrderID    int64
	Quantities orders.ReceivingBatch
	IsPartial  bool
	Note       string
}

// FinalizeResult reports the post-commit fulfillment state.
type FinalizeResult struct {
	Progress  orders.Progress
	NewStatus orders.Status
}

// InventoryGateway is the boundary the orchestrator commits through.
// Implementations must be idempotent per (order, line): a retried sub-step
// must not double-apply.
type InventoryGateway interface {
	PropagateLinePricing(ctx context.Context, lineID int64, rec pricing.Record) error
	PersistUnitRecords(ctx context.Context, orderID, lineID int64, units []UnitRecord) error
	FinalizeReceive(ctx context.Context, input FinalizeInput) (FinalizeResult, error)
}

// CommitResult is the outcome of a (possibly partial) commit.
type CommitResult struct {
	SubSteps  []SubStepResult
	Progress  orders.Progress
	NewStatus orders.Status
}

// commit runs the sub-steps in order. Cancellation is not supported once it
// starts: every sub-step runs to completion or to a reported failure. Steps
// that already succeeded on a previous attempt are skipped on retry.
func (s *Session) commit(ctx context.Context, gateway InventoryGateway, note string) (CommitResult, error) {
	if s.stage == StageCommitted {
		return CommitResult{}, ErrInvalidStage
	}
	if s.stage != StagePricing && s.stage != StageQualityGate && s.stage != StageCommitting {
		return CommitResult{}, ErrInvalidStage
	}
	if s.qualityRequested && !s.qualityDone {
		return CommitResult{}, fmt.Errorf("%w: quality gate pending", ErrInvalidStage)
	}
	if s.totalReceiving() == 0 {
		return CommitResult{}, ErrNothingToReceive
	}
	s.stage = StageCommitting
	s.stampWarranty(time.Now().UTC())

	result := CommitResult{}
	run := func(step SubStep, fn func() error) bool {
		if s.stepSucceeded(step) {
			result.SubSteps = append(result.SubSteps, SubStepResult{Step: step, Succeeded: true})
			return true
		}
		err := fn()
		res := SubStepResult{Step: step, Succeeded: err == nil, Err: err}
		result.SubSteps = append(result.SubSteps, res)
		s.commitResults = upsertResult(s.commitResults, res)
		return err == nil
	}

	run(SubStepPropagatePricing, func() error {
		for _, line := range s.lines {
			if line.Receiving == 0 {
				continue
			}
			rec, ok := s.records[line.LineID]
			if !ok {
				return fmt.Errorf("%w: line %d", ErrNotPriced, line.LineID)
			}
			if err := gateway.PropagateLinePricing(ctx, line.LineID, rec.Rounded()); err != nil {
				return fmt.Errorf("line %d: %w", line.LineID, err)
			}
		}
		return nil
	})

	run(SubStepPersistUnits, func() error {
		for _, line := range s.lines {
			if line.Receiving == 0 {
				continue
			}
			if err := gateway.PersistUnitRecords(ctx, s.OrderID, line.LineID, line.Units); err != nil {
				return fmt.Errorf("line %d: %w", line.LineID, err)
			}
		}
		return nil
	})

	preview := s.Preview()
	run(SubStepFinalize, func() error {
		out, err := gateway.FinalizeReceive(ctx, FinalizeInput{
			SessionID:  s.ID,
			OrderID:    s.OrderID,
			Quantities: s.Batch(),
			IsPartial:  !preview.IsFullyReceived,
			Note:       note,
		})
		if err != nil {
			return err
		}
		result.Progress = out.Progress
		result.NewStatus = out.NewStatus
		return nil
	})

	for _, r := range result.SubSteps {
		if !r.Succeeded {
			return result, &PartialCommitError{Results: result.SubSteps}
		}
	}
	s.stage = StageCommitted
	return result, nil
}

func (s *Session) stepSucceeded(step SubStep) bool {
	for _, r := range s.commitResults {
		if r.Step == step && r.Succeeded {
			return true
		}
	}
	return false
}

func upsertResult(results []SubStepResult, res SubStepResult) []SubStepResult {
	for i, r := range results {
		if r.Step == res.Step {
			results[i] = res
			return results
		}
	}
	return append(results, res)
}

// stampWarranty converts per-unit warranty months into absolute expiries.
func (s *Session) stampWarranty(now time.Time) {
	for _, line := range s.lines {
		for i := range line.Units {
			if m := line.Units[i].WarrantyMonths; m > 0 {
				line.Units[i].WarrantyUntil = now.AddDate(0, m, 0)
			}
		}
	}
}
