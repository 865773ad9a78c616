package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	apppayment "github.com/Zhima-Mochi/solpay-gateway/internal/application/payment"
	appvendor "github.com/Zhima-Mochi/solpay-gateway/internal/application/vendor"
	dompay "github.com/Zhima-Mochi/solpay-gateway/internal/domain/payment"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

type Handler struct {
	registerVendor *appvendor.RegisterVendorUseCase
	listVendors    *appvendor.ListVendorsUseCase
	executePayment *apppayment.ExecutePaymentUseCase

	log observability.Logger

	httpCounter   observability.Counter   // http_requests_total{method,route,status}
	httpHistogram observability.Histogram // http_request_duration_seconds{method,route,status}
}

func NewHandler(
	registerVendor *appvendor.RegisterVendorUseCase,
	listVendors *appvendor.ListVendorsUseCase,
	executePayment *apppayment.ExecutePaymentUseCase,
	tel observability.Observability,
) *Handler {
	baseLogger := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLogger = tel.Logger()
		metricsProvider = tel.Metrics()
	}

	return &Handler{
		registerVendor: registerVendor,
		listVendors:    listVendors,
		executePayment: executePayment,
		log:            baseLogger.With(observability.F("component", componentHTTPHandler)),
		httpCounter:    metricsProvider.Counter(observability.MHTTPRequests),
		httpHistogram:  metricsProvider.Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → request logger → HTTP metrics → Access log → Handler
	h.muxHandle(mux, "/vendors", map[string]http.HandlerFunc{
		http.MethodGet:  h.handleListVendors,
		http.MethodPost: h.handleRegisterVendor,
	})
	h.muxHandle(mux, "/buy", map[string]http.HandlerFunc{
		http.MethodPost: h.handleBuy,
	})
	h.muxHandle(mux, "/health", map[string]http.HandlerFunc{
		http.MethodGet: h.handleHealth,
	})

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, route string, methods map[string]http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		handler, ok := methods[r.Method]
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(r.Context(), route)
		r = r.WithContext(ctx)

		wrapped := h.withTrace(
			ObservabilityMiddleware(
				logctx.FromOr(ctx, h.log),
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
			)(
				h.withHTTPMetrics(
					h.withAccessLog(handler),
				),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type vendorPayload struct {
	WalletID string   `json:"wallet_id"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Services []string `json:"services"`
}

func (h *Handler) handleListVendors(w http.ResponseWriter, r *http.Request) {
	result, err := h.listVendors.Execute(r.Context(), appvendor.ListVendorsInput{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload := make([]vendorPayload, 0, len(result.Vendors))
	for _, v := range result.Vendors {
		services := v.Services
		if services == nil {
			services = []string{}
		}
		payload = append(payload, vendorPayload{
			WalletID: v.WalletID,
			Name:     v.Name,
			Address:  v.Address,
			Services: services,
		})
	}

	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleRegisterVendor(w http.ResponseWriter, r *http.Request) {
	var req vendorPayload
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.registerVendor.Execute(r.Context(), appvendor.RegisterVendorInput{
		WalletID: req.WalletID,
		Name:     req.Name,
		Address:  req.Address,
		Services: req.Services,
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type buyRequest struct {
	Lamports  uint64 `json:"lamports"`
	Vendor    string `json:"vendor"`
	BuyerPair string `json:"buyer_pair"`
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.executePayment.Execute(r.Context(), apppayment.ExecutePaymentInput{
		Lamports:  req.Lamports,
		Vendor:    req.Vendor,
		BuyerPair: req.BuyerPair,
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
// Request bodies are never logged; /buy bodies carry the buyer credential.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("solpay.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := r.Method + " " + route
		if route == "unknown" {
			spanName = r.Method + " " + r.URL.Path
			route = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// withHTTPMetrics records RED-ish HTTP metrics using instruments bound at
// construction time; nothing is registered inside the request path.
func (h *Handler) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		labels := []observability.Label{
			observability.L("method", r.Method),
			observability.L("route", routeFromContext(r.Context())),
			observability.L("status", strconv.Itoa(lrw.status)),
		}
		if h.httpCounter != nil {
			h.httpCounter.Add(1, labels...)
		}
		if h.httpHistogram != nil {
			h.httpHistogram.Observe(time.Since(start).Seconds(), labels...)
		}
	})
}

func decodeJSON(ctx context.Context, r *http.Request, dst any) error {
	_ = ctx
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps each payment error kind to a distinct status code.
// The error body shape stays {"error": message} for every kind.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dompay.ErrVendorNotWhitelisted):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, dompay.ErrMalformedCredential),
		errors.Is(err, dompay.ErrMalformedAddress):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, dompay.ErrConfirmationTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, dompay.ErrSubmissionFailed),
		errors.Is(err, dompay.ErrConfirmationCheckFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
