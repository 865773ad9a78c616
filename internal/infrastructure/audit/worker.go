// Package audit turns gateway domain events into an audit trail of logs and
// counters. It observes; it never mutates registry or payment state.
package audit

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/solpay-gateway/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/solpay-gateway/internal/domain/payment"
	domvendor "github.com/Zhima-Mochi/solpay-gateway/internal/domain/vendor"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability/logctx"
	workerpresentation "github.com/Zhima-Mochi/solpay-gateway/internal/presentation/worker"
	"go.opentelemetry.io/otel/trace"
)

const componentAudit = "audit_worker"

type Worker struct {
	subscriber domoutbox.Subscriber

	log             observability.Logger
	vendorsCounter  observability.Counter // vendors_registered_total
	paymentsCounter observability.Counter // payments_confirmed_total
}

func New(subscriber domoutbox.Subscriber, tel observability.Observability) *Worker {
	baseLog := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		metricsProvider = tel.Metrics()
	}

	return &Worker{
		subscriber:      subscriber,
		log:             baseLog.With(observability.F("component", componentAudit)),
		vendorsCounter:  metricsProvider.Counter(observability.MVendorsRegistered),
		paymentsCounter: metricsProvider.Counter(observability.MPaymentsConfirmed),
	}
}

func (w *Worker) Start() {
	w.subscriber.Subscribe(domvendor.RegisteredEvent{}.EventName(), w.handleVendorRegistered)
	w.subscriber.Subscribe(dompay.ConfirmedEvent{}.EventName(), w.handlePaymentConfirmed)
}

func (w *Worker) handleVendorRegistered(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domvendor.RegisteredEvent)
	if !ok {
		return nil
	}

	ctx = w.eventContext(ctx, evt.EventName())
	if w.vendorsCounter != nil {
		w.vendorsCounter.Add(1)
	}
	logctx.FromOr(ctx, w.log).Info("vendor_registered",
		observability.F("wallet_id", evt.WalletID),
		observability.F("name", evt.Name),
		observability.F("services", evt.Services),
		observability.F("occurred_at", evt.OccurredAt),
	)
	return nil
}

func (w *Worker) handlePaymentConfirmed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompay.ConfirmedEvent)
	if !ok {
		return nil
	}

	ctx = w.eventContext(ctx, evt.EventName())
	if w.paymentsCounter != nil {
		w.paymentsCounter.Add(1)
	}
	logctx.FromOr(ctx, w.log).Info("payment_confirmed",
		observability.F("payment_id", evt.PaymentID),
		observability.F("vendor", evt.Vendor),
		observability.F("lamports", evt.Lamports),
		observability.F("tx_id", evt.TxID),
		observability.F("occurred_at", evt.OccurredAt),
	)
	return nil
}

func (w *Worker) eventContext(ctx context.Context, eventName string) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	return workerpresentation.WithEventContext(ctx, w.log, sc.TraceID(), sc.SpanID(),
		map[string]string{"event": eventName},
	)
}
