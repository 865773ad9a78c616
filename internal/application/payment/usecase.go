package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/solpay-gateway/internal/application"
	domledger "github.com/Zhima-Mochi/solpay-gateway/internal/domain/ledger"
	domoutbox "github.com/Zhima-Mochi/solpay-gateway/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/solpay-gateway/internal/domain/payment"
	domvendor "github.com/Zhima-Mochi/solpay-gateway/internal/domain/vendor"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService        = "payment-gateway"
	useCasePaymentExecute = "payment.execute"
	paymentSpanName       = "ExecutePayment"
	spanPrefix            = "UC."
	publishPeer           = "outbox"
	publishEndpoint       = "payment.confirmed"
	publishTimeout        = 300 * time.Millisecond
)

var _ application.UseCase[ExecutePaymentInput, *ExecutePaymentResult] = (*ExecutePaymentUseCase)(nil)

// ConfirmPolicy bounds the confirmation poll loop. MaxAttempts zero means
// poll until the context is done.
type ConfirmPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{MaxAttempts: 30, Interval: 500 * time.Millisecond}
}

type ExecutePaymentInput struct {
	Lamports uint64
	Vendor   string
	// BuyerPair is the buyer's secret credential. It is handed to the ledger
	// client for decoding and referenced nowhere else: no log field, span
	// attribute, metric label or error message may carry it.
	BuyerPair string
}

type ExecutePaymentResult struct {
	PaymentID string
	TxID      domledger.TxID
	Polls     int
}

// ExecutePaymentUseCase authorizes a payment request against the vendor
// registry, then drives the ledger client through the submit/confirm protocol.
type ExecutePaymentUseCase struct {
	registry  domvendor.Registry
	ledger    domledger.Client
	idGen     IDGenerator
	publisher domoutbox.Publisher
	policy    ConfirmPolicy

	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	pollCounter  observability.Counter   // confirmation_polls_total{outcome}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

// NewExecutePaymentUseCase wires the dependencies required to execute a payment.
func NewExecutePaymentUseCase(
	registry domvendor.Registry,
	ledger domledger.Client,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	policy ConfirmPolicy,
	tel observability.Observability,
) *ExecutePaymentUseCase {
	baseLog := observability.NopLogger()
	tracer := observability.NopTracer()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		tracer = tel.Tracer()
		metricsProvider = tel.Metrics()
	}
	baseLog = baseLog.With(observability.F("service", paymentService))

	if policy.Interval < 0 {
		policy.Interval = 0
	}
	if policy.MaxAttempts < 0 {
		policy.MaxAttempts = 0
	}

	return &ExecutePaymentUseCase{
		registry:     registry,
		ledger:       ledger,
		idGen:        idGen,
		publisher:    publisher,
		policy:       policy,
		tracer:       tracer,
		log:          baseLog,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		pollCounter:  metricsProvider.Counter(observability.MConfirmationPolls),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute runs the authorize → resolve → submit → confirm state machine for a
// single payment request. Steps are strictly sequential; a failed submission
// is terminal and never retried.
func (uc *ExecutePaymentUseCase) Execute(ctx context.Context, cmd ExecutePaymentInput) (_ *ExecutePaymentResult, err error) {
	paymentID := uc.idGen.NewID()
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCasePaymentExecute),
		observability.F("payment_id", paymentID),
		observability.F("vendor", cmd.Vendor),
		observability.F("lamports", cmd.Lamports),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+paymentSpanName,
		attribute.String("use_case", useCasePaymentExecute),
		attribute.String("payment.id", paymentID),
		attribute.String("payment.vendor", cmd.Vendor),
		attribute.Int64("payment.lamports", int64(cmd.Lamports)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	polls := 0
	var txID domledger.TxID
	var publishErr error

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			span.SetAttributes(attribute.Int("payment.confirmation_polls", polls))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		if uc.reqCounter != nil {
			uc.reqCounter.Add(1,
				observability.L("use_case", useCasePaymentExecute),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCasePaymentExecute),
			)
		}
		if uc.pollCounter != nil && polls > 0 {
			uc.pollCounter.Add(float64(polls),
				observability.L("outcome", outcome),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("confirmation_polls", polls),
		}
		if txID != "" {
			fields = append(fields, observability.F("tx_id", string(txID)))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	// Authorize: the whitelist check happens before any ledger interaction.
	if !uc.registry.Contains(ctx, cmd.Vendor) {
		outcome, statusText = "error", "VENDOR_NOT_WHITELISTED"
		return nil, &dompay.NotWhitelistedError{Vendor: cmd.Vendor}
	}

	// Resolve: both wire strings must decode before any network round-trip.
	// The credential decode error is dropped on purpose; it can echo the secret.
	signer, derr := uc.ledger.DecodeSigner(cmd.BuyerPair)
	if derr != nil {
		outcome, statusText = "error", "CREDENTIAL_MALFORMED"
		return nil, dompay.ErrMalformedCredential
	}
	dest, derr := uc.ledger.DecodeAccount(cmd.Vendor)
	if derr != nil {
		outcome, statusText = "error", "ADDRESS_MALFORMED"
		return nil, fmt.Errorf("%w: %v", dompay.ErrMalformedAddress, derr)
	}
	if cerr := ctx.Err(); cerr != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, cerr
	}

	// Build & submit: a reference fetch failure counts as a failed submission.
	ref, rerr := uc.ledger.LatestReference(ctx)
	if rerr != nil {
		outcome, statusText = "error", "REFERENCE_FETCH_FAILED"
		return nil, fmt.Errorf("%w: %v", dompay.ErrSubmissionFailed, rerr)
	}
	txID, err = uc.ledger.SubmitTransfer(ctx, signer, dest, cmd.Lamports, ref)
	if err != nil {
		txID = ""
		outcome, statusText = "error", "SUBMISSION_FAILED"
		return nil, fmt.Errorf("%w: %v", dompay.ErrSubmissionFailed, err)
	}
	span.AddEvent("transfer.submitted",
		trace.WithAttributes(attribute.String("ledger.tx_id", string(txID))),
	)

	// Confirm: "not yet confirmed" is polled again, a poll error is terminal.
	confirmed := false
	for attempt := 1; ; attempt++ {
		ok, cerr := uc.ledger.Confirmed(ctx, txID)
		polls++
		if cerr != nil {
			outcome, statusText = "error", "CONFIRMATION_CHECK_FAILED"
			return nil, fmt.Errorf("%w: %v", dompay.ErrConfirmationCheckFailed, cerr)
		}
		if ok {
			confirmed = true
			break
		}
		if uc.policy.MaxAttempts != 0 && attempt >= uc.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			outcome, statusText = "error", "CONFIRMATION_CANCELED"
			return nil, fmt.Errorf("%w: %v", dompay.ErrConfirmationTimeout, ctx.Err())
		case <-time.After(uc.policy.Interval):
		}
	}
	if !confirmed {
		outcome, statusText = "error", "CONFIRMATION_TIMEOUT"
		return nil, fmt.Errorf("%w: transfer %s unconfirmed after %d polls",
			dompay.ErrConfirmationTimeout, txID, polls)
	}
	span.AddEvent("transfer.confirmed")

	if uc.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		pubStart := time.Now()
		pubOutcome := "success"

		publishErr = uc.publisher.Publish(pubCtx, dompay.ConfirmedEvent{
			PaymentID:  paymentID,
			Vendor:     cmd.Vendor,
			Lamports:   cmd.Lamports,
			TxID:       string(txID),
			OccurredAt: time.Now().UTC(),
		})
		cancel()
		if publishErr != nil {
			pubOutcome = "error"
		}

		if uc.extCounter != nil {
			uc.extCounter.Add(1,
				observability.L("peer", publishPeer),
				observability.L("endpoint", publishEndpoint),
				observability.L("outcome", pubOutcome),
			)
		}
		if uc.extHistogram != nil {
			uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
				observability.L("peer", publishPeer),
				observability.L("endpoint", publishEndpoint),
			)
		}
	}

	return &ExecutePaymentResult{PaymentID: paymentID, TxID: txID, Polls: polls}, nil
}
