package orders

import "time"

// Settlement is one status record returned by the gateway for a transaction.
type Settlement struct {
	BankStatus        string `json:"bank_status"`
	SPCode            string `json:"sp_code"`
	SPMessage         string `json:"sp_message"`
	TransactionStatus string `json:"transaction_status"`
	Method            string `json:"method"`
	DateTime          string `json:"date_time"`
}

// Outcome describes what applying a settlement or a cancellation did.
type Outcome struct {
	From Status
	To   Status
	// Applied is true when a terminal status drove a transition for the first time.
	Applied bool
	// ReleaseStock is true when the caller now owns releasing the reservation.
	ReleaseStock bool
	// Rejected is true when a terminal status arrived for an order that left Pending.
	Rejected bool
}

func (o Outcome) Changed() bool { return o.From != o.To }

// ApplySettlement records the raw gateway payload and drives the status
// machine. A terminal status already applied to the order is a no-op apart
// from the metadata refresh.
func (o *Order) ApplySettlement(s Settlement, now time.Time) Outcome {
	o.Transaction.TransactionStatus = s.TransactionStatus
	o.Transaction.BankStatus = s.BankStatus
	o.Transaction.SPCode = s.SPCode
	o.Transaction.SPMessage = s.SPMessage
	o.Transaction.Method = s.Method
	o.Transaction.DateTime = s.DateTime
	o.UpdatedAt = now

	out := Outcome{From: o.Status, To: o.Status}
	target, ok := targetFor(s.BankStatus)
	if !ok {
		return out
	}

	switch {
	case o.Transaction.AppliedStatus == s.BankStatus:
	case o.Status != StatusPending || !CanTransition(o.Status, target):
		out.Rejected = true
	default:
		o.Status = target
		o.Transaction.AppliedStatus = s.BankStatus
		out.To = target
		out.Applied = true
	}

	if target == StatusCancelled && o.Status == StatusCancelled {
		out.ReleaseStock = o.claimRelease()
	}
	return out
}

// Cancel is the explicit cancellation path. Cancelling an order whose stock
// release did not complete claims the release again.
func (o *Order) Cancel(now time.Time) (Outcome, error) {
	out := Outcome{From: o.Status, To: o.Status}
	switch o.Status {
	case StatusPending:
		o.Status = StatusCancelled
		o.UpdatedAt = now
		out.To = StatusCancelled
		out.Applied = true
	case StatusCancelled:
	default:
		return out, ErrInvalidTransition
	}
	out.ReleaseStock = o.claimRelease()
	if out.ReleaseStock {
		o.UpdatedAt = now
	}
	return out, nil
}

// UnclaimRelease hands the release back after the ledger refused it, so a
// later Cancel or settlement retries it.
func (o *Order) UnclaimRelease(now time.Time) {
	o.StockReleased = false
	o.UpdatedAt = now
}

func (o *Order) claimRelease() bool {
	if o.StockReleased {
		return false
	}
	o.StockReleased = true
	return true
}
