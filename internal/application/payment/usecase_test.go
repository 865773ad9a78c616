package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domledger "github.com/Zhima-Mochi/solpay-gateway/internal/domain/ledger"
	domoutbox "github.com/Zhima-Mochi/solpay-gateway/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/solpay-gateway/internal/domain/payment"
	domvendor "github.com/Zhima-Mochi/solpay-gateway/internal/domain/vendor"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/memory"
)

type stubSigner string

func (s stubSigner) Account() string { return "buyer-account" }

type stubAccount string

func (a stubAccount) String() string { return string(a) }

type confirmStep struct {
	ok  bool
	err error
}

// stubLedger scripts the ledger port and counts every call so tests can
// assert exactly which network interactions happened.
type stubLedger struct {
	mu sync.Mutex

	decodeSignerErr  error
	decodeAccountErr error
	referenceErr     error
	submitErr        error
	confirmations    []confirmStep

	referenceCalls int
	submitCalls    int
	confirmCalls   int
}

func (s *stubLedger) DecodeSigner(secret string) (domledger.Signer, error) {
	if s.decodeSignerErr != nil {
		return nil, s.decodeSignerErr
	}
	return stubSigner(secret), nil
}

func (s *stubLedger) DecodeAccount(addr string) (domledger.Account, error) {
	if s.decodeAccountErr != nil {
		return nil, s.decodeAccountErr
	}
	return stubAccount(addr), nil
}

func (s *stubLedger) LatestReference(ctx context.Context) (domledger.Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referenceCalls++
	if s.referenceErr != nil {
		return "", s.referenceErr
	}
	return "ref-1", nil
}

func (s *stubLedger) SubmitTransfer(ctx context.Context, from domledger.Signer, to domledger.Account, lamports uint64, ref domledger.Reference) (domledger.TxID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "tx-1", nil
}

func (s *stubLedger) Confirmed(ctx context.Context, id domledger.TxID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.confirmCalls
	s.confirmCalls++
	if idx < len(s.confirmations) {
		step := s.confirmations[idx]
		return step.ok, step.err
	}
	return false, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *capturePublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) captured() []domoutbox.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domoutbox.Event(nil), p.events...)
}

type fixedID string

func (f fixedID) NewID() string { return string(f) }

func newTestUseCase(t *testing.T, ledger *stubLedger, policy ConfirmPolicy) (*ExecutePaymentUseCase, *capturePublisher) {
	t.Helper()
	registry := memory.NewVendorRegistry()
	registry.Insert(context.Background(), domvendor.Vendor{WalletID: "V1", Name: "Acme"})
	publisher := &capturePublisher{}
	uc := NewExecutePaymentUseCase(registry, ledger, fixedID("pay-1"), publisher, policy, nil)
	return uc, publisher
}

func TestExecuteRejectsUnwhitelistedVendor(t *testing.T) {
	ledger := &stubLedger{}
	uc, _ := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 3})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V2",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrVendorNotWhitelisted) {
		t.Fatalf("expected whitelist error, got %v", err)
	}
	if got := err.Error(); got != "V2 is not whitelisted" {
		t.Fatalf("unexpected message: %q", got)
	}
	if ledger.referenceCalls != 0 || ledger.submitCalls != 0 || ledger.confirmCalls != 0 {
		t.Fatalf("ledger must not be touched: ref=%d submit=%d confirm=%d",
			ledger.referenceCalls, ledger.submitCalls, ledger.confirmCalls)
	}
}

func TestExecuteRejectsMalformedCredential(t *testing.T) {
	ledger := &stubLedger{decodeSignerErr: errors.New("bad base58: sup3r-s3cret")}
	uc, _ := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 3})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "sup3r-s3cret",
	})
	if !errors.Is(err, dompay.ErrMalformedCredential) {
		t.Fatalf("expected malformed credential error, got %v", err)
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Fatalf("error must not echo the credential: %q", err.Error())
	}
	if ledger.referenceCalls != 0 || ledger.submitCalls != 0 {
		t.Fatal("nothing may be submitted for a malformed credential")
	}
}

func TestExecuteRejectsMalformedAddress(t *testing.T) {
	ledger := &stubLedger{decodeAccountErr: errors.New("invalid length")}
	uc, _ := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 3})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrMalformedAddress) {
		t.Fatalf("expected malformed address error, got %v", err)
	}
	if ledger.submitCalls != 0 {
		t.Fatal("nothing may be submitted for a malformed address")
	}
}

func TestExecuteSubmissionFailureIsTerminal(t *testing.T) {
	ledger := &stubLedger{submitErr: errors.New("insufficient funds")}
	uc, publisher := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 3})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrSubmissionFailed) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if ledger.submitCalls != 1 {
		t.Fatalf("expected exactly one submission, got %d", ledger.submitCalls)
	}
	if ledger.confirmCalls != 0 {
		t.Fatalf("confirmation must not run after a failed submission, got %d polls", ledger.confirmCalls)
	}
	if len(publisher.captured()) != 0 {
		t.Fatal("no event may be published for a failed payment")
	}
}

func TestExecuteReferenceFetchFailureIsSubmissionFailure(t *testing.T) {
	ledger := &stubLedger{referenceErr: errors.New("rpc unavailable")}
	uc, _ := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 3})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrSubmissionFailed) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if ledger.submitCalls != 0 {
		t.Fatal("submission must not run without a reference")
	}
}

func TestExecuteConfirmsAfterRepolling(t *testing.T) {
	ledger := &stubLedger{confirmations: []confirmStep{
		{ok: false}, {ok: false}, {ok: true},
	}}
	uc, publisher := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 10})

	result, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if ledger.confirmCalls != 3 {
		t.Fatalf("expected exactly 3 confirmation polls, got %d", ledger.confirmCalls)
	}
	if result.Polls != 3 {
		t.Fatalf("result reports %d polls, want 3", result.Polls)
	}
	if result.TxID != "tx-1" || result.PaymentID != "pay-1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	events := publisher.captured()
	if len(events) != 1 {
		t.Fatalf("expected one confirmed event, got %d", len(events))
	}
	evt, ok := events[0].(dompay.ConfirmedEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", events[0])
	}
	if evt.Vendor != "V1" || evt.Lamports != 100 || evt.TxID != "tx-1" || evt.PaymentID != "pay-1" {
		t.Fatalf("unexpected event payload: %+v", evt)
	}
}

func TestExecutePollErrorIsTerminal(t *testing.T) {
	ledger := &stubLedger{confirmations: []confirmStep{
		{ok: false}, {err: errors.New("rpc timeout")},
	}}
	uc, _ := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 10})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrConfirmationCheckFailed) {
		t.Fatalf("expected confirmation check failure, got %v", err)
	}
	if ledger.confirmCalls != 2 {
		t.Fatalf("poll errors must not be retried, got %d polls", ledger.confirmCalls)
	}
}

func TestExecuteConfirmationTimesOut(t *testing.T) {
	ledger := &stubLedger{}
	uc, publisher := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 3})

	_, err := uc.Execute(context.Background(), ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrConfirmationTimeout) {
		t.Fatalf("expected confirmation timeout, got %v", err)
	}
	if ledger.confirmCalls != 3 {
		t.Fatalf("expected 3 polls before giving up, got %d", ledger.confirmCalls)
	}
	if len(publisher.captured()) != 0 {
		t.Fatal("no event may be published for an unconfirmed payment")
	}
}

func TestExecuteHonoursContextCancellation(t *testing.T) {
	ledger := &stubLedger{}
	uc, _ := newTestUseCase(t, ledger, ConfirmPolicy{MaxAttempts: 0, Interval: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := uc.Execute(ctx, ExecutePaymentInput{
		Lamports:  100,
		Vendor:    "V1",
		BuyerPair: "secret",
	})
	if !errors.Is(err, dompay.ErrConfirmationTimeout) {
		t.Fatalf("expected confirmation timeout on cancellation, got %v", err)
	}
	if ledger.confirmCalls == 0 {
		t.Fatal("expected at least one poll before cancellation")
	}
}
