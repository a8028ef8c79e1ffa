package orders

import "math"

// ReceivingBatch maps line ID to the quantity being received right now.
type ReceivingBatch map[int64]int

// Progress summarises fulfillment after a receiving batch is applied.
type Progress struct {
	IsFullyReceived      bool
	TotalOrdered         int
	TotalAlreadyReceived int
	TotalNowReceiving    int
	Remaining            int
	PercentComplete      int
}

// Reconcile decides whether applying the batch leaves the order fully or
// partially received. The order is fully received only when every line with
// OrderedQty > 0 ends at exactly its ordered quantity.
func Reconcile(lines []Line, batch ReceivingBatch) Progress {
	p := Progress{IsFullyReceived: true}
	for _, line := range lines {
		now := batch[line.ID]
		p.TotalOrdered += line.OrderedQty
		p.TotalAlreadyReceived += line.ReceivedQty
		p.TotalNowReceiving += now
		if line.OrderedQty > 0 && line.ReceivedQty+now != line.OrderedQty {
			p.IsFullyReceived = false
		}
	}
	p.Remaining = p.TotalOrdered - p.TotalAlreadyReceived - p.TotalNowReceiving
	if p.TotalOrdered > 0 {
		p.PercentComplete = int(math.Round(100 * float64(p.TotalAlreadyReceived+p.TotalNowReceiving) / float64(p.TotalOrdered)))
	}
	return p
}

// StatusAfter maps a reconciliation outcome to the post-commit status. This
// is the one place a status changes without going through the validator: the
// new status is an outcome of physical receipt, not a user request.
func (p Progress) StatusAfter() Status {
	if p.IsFullyReceived {
		return StatusReceived
	}
	return StatusPartialReceived
}
