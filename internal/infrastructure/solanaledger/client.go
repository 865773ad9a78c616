// Package solanaledger adapts the Solana JSON-RPC API to the ledger port.
package solanaledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	domain "github.com/Zhima-Mochi/solpay-gateway/internal/domain/ledger"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability"
)

const (
	componentLedger = "solana_ledger"

	// DefaultEndpoint is the devnet cluster the gateway targets unless
	// configured otherwise.
	DefaultEndpoint = "https://api.devnet.solana.com"
)

// Client implements ledger.Client over a shared Solana RPC connection.
// The underlying rpc.Client is safe for concurrent use; every call is an
// independent network round-trip.
type Client struct {
	rpc      *rpc.Client
	endpoint string

	log          observability.Logger
	reqCounter   observability.Counter   // ledger_requests_total{method,outcome}
	durHistogram observability.Histogram // ledger_request_duration_seconds{method}
}

func New(endpoint string, tel observability.Observability) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	baseLog := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		metricsProvider = tel.Metrics()
	}

	return &Client{
		rpc:          rpc.New(endpoint),
		endpoint:     endpoint,
		log: baseLog.With(
			observability.F("component", componentLedger),
			observability.F("endpoint", endpoint),
		),
		reqCounter:   metricsProvider.Counter(observability.MLedgerRequests),
		durHistogram: metricsProvider.Histogram(observability.MLedgerRequestDuration),
	}
}

// signer wraps the decoded buyer keypair. The key never leaves this type.
type signer struct {
	key solana.PrivateKey
}

func (s signer) Account() string { return s.key.PublicKey().String() }

type account struct {
	pub solana.PublicKey
}

func (a account) String() string { return a.pub.String() }

func (c *Client) DecodeSigner(secret string) (domain.Signer, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("solana: decode keypair: %w", err)
	}
	// PrivateKeyFromBase58 does not validate length; a short key would
	// panic later when deriving the public key.
	if len(key) != 64 {
		return nil, fmt.Errorf("solana: decode keypair: invalid length %d", len(key))
	}
	return signer{key: key}, nil
}

func (c *Client) DecodeAccount(addr string) (domain.Account, error) {
	pub, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return nil, fmt.Errorf("solana: decode account %q: %w", addr, err)
	}
	return account{pub: pub}, nil
}

func (c *Client) LatestReference(ctx context.Context) (domain.Reference, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.observe(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		var callErr error
		out, callErr = c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("solana: latest blockhash: %w", err)
	}
	return domain.Reference(out.Value.Blockhash.String()), nil
}

func (c *Client) SubmitTransfer(
	ctx context.Context,
	from domain.Signer,
	to domain.Account,
	lamports uint64,
	ref domain.Reference,
) (domain.TxID, error) {
	buyer, ok := from.(signer)
	if !ok {
		return "", fmt.Errorf("solana: signer was not produced by this client")
	}
	dest, ok := to.(account)
	if !ok {
		return "", fmt.Errorf("solana: account was not produced by this client")
	}
	blockhash, err := solana.HashFromBase58(string(ref))
	if err != nil {
		return "", fmt.Errorf("solana: decode reference: %w", err)
	}

	payer := buyer.key.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer, dest.pub).Build(),
		},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("solana: build transfer: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &buyer.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("solana: sign transfer: %w", err)
	}

	var sig solana.Signature
	err = c.observe(ctx, "sendTransaction", func(ctx context.Context) error {
		var callErr error
		sig, callErr = c.rpc.SendTransaction(ctx, tx)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("solana: send transfer: %w", err)
	}
	return domain.TxID(sig.String()), nil
}

func (c *Client) Confirmed(ctx context.Context, id domain.TxID) (bool, error) {
	sig, err := solana.SignatureFromBase58(string(id))
	if err != nil {
		return false, fmt.Errorf("solana: decode tx id: %w", err)
	}

	var out *rpc.GetSignatureStatusesResult
	err = c.observe(ctx, "getSignatureStatuses", func(ctx context.Context) error {
		var callErr error
		out, callErr = c.rpc.GetSignatureStatuses(ctx, true, sig)
		return callErr
	})
	if err != nil {
		return false, fmt.Errorf("solana: signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		// The cluster has not seen the transaction yet.
		return false, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return false, fmt.Errorf("solana: transfer failed on chain: %v", status.Err)
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}

// observe wraps one RPC round-trip with metrics and a debug log.
// Request payloads are never logged; the buyer key must stay out of telemetry.
func (c *Client) observe(ctx context.Context, method string, call func(context.Context) error) error {
	start := time.Now()
	err := call(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	if c.reqCounter != nil {
		c.reqCounter.Add(1,
			observability.L("method", method),
			observability.L("outcome", outcome),
		)
	}
	if c.durHistogram != nil {
		c.durHistogram.Observe(time.Since(start).Seconds(),
			observability.L("method", method),
		)
	}
	c.log.Debug("ledger_call",
		observability.F("method", method),
		observability.F("outcome", outcome),
		observability.F("latency_ms", time.Since(start).Milliseconds()),
	)
	return err
}
