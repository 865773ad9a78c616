// Package ledger defines the gateway's outbound port to the external ledger
// network. The port is deliberately narrow: decode the two wire strings a
// payment request carries, fetch a reference point, submit, poll.
package ledger

import "context"

// Reference is a recent network reference point (a blockhash) required to
// construct a valid transfer instruction.
type Reference string

// TxID identifies a submitted transfer on the ledger.
type TxID string

// Signer is a resolved signing identity able to authorize transfers from the
// buyer's account. Implementations hold key material and must not expose it
// through any method or log output.
type Signer interface {
	// Account returns the address of the account the signer controls.
	Account() string
}

// Account is a resolved ledger account address.
type Account interface {
	String() string
}

// Client is the gateway's view of the ledger network. Implementations must be
// safe for concurrent use; every network call honours the context.
type Client interface {
	// DecodeSigner parses an opaque credential string into a signing identity.
	DecodeSigner(secret string) (Signer, error)
	// DecodeAccount parses an account address string.
	DecodeAccount(addr string) (Account, error)
	// LatestReference fetches the reference point needed for a new transfer.
	LatestReference(ctx context.Context) (Reference, error)
	// SubmitTransfer builds, signs and submits a transfer of lamports from
	// the signer's account to the destination account.
	SubmitTransfer(ctx context.Context, from Signer, to Account, lamports uint64, ref Reference) (TxID, error)
	// Confirmed performs one confirmation-status poll for a submitted
	// transfer. A false result without error means "not yet confirmed".
	Confirmed(ctx context.Context, id TxID) (bool, error)
}
