package payment

import "time"

// ConfirmedEvent is a domain event emitted after the ledger reports a
// transfer as durably confirmed. It never carries the buyer credential.
type ConfirmedEvent struct {
	PaymentID  string
	Vendor     string
	Lamports   uint64
	TxID       string
	OccurredAt time.Time
}

func (ConfirmedEvent) EventName() string { return "payment.confirmed" }
