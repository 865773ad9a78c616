package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	apppayment "github.com/Zhima-Mochi/solpay-gateway/internal/application/payment"
	appvendor "github.com/Zhima-Mochi/solpay-gateway/internal/application/vendor"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/audit"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/id"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/memory"
	obsinfra "github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/solanaledger"
	"github.com/Zhima-Mochi/solpay-gateway/internal/observability"
	"github.com/Zhima-Mochi/solpay-gateway/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/solpay-gateway/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultPort = 3030

func main() {
	serviceName := getenvDefault("SERVICE_NAME", "solpay-gateway")
	env := getenvDefault("ENV", "dev")
	baseLogger := logging.MustNewLogger(serviceName, env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	port, err := listenPort(os.Args[1:])
	if err != nil {
		systemLogger.Fatal("invalid_port", zap.Error(err))
	}

	obsLogger := zaplogger.Wrap(baseLogger)
	metrics := prometrics.New("solpay", "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: metrics.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: metrics.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests served.",
			"method", "route", "status",
		),
		observability.MLedgerRequests: metrics.Counter(
			string(observability.MLedgerRequests),
			"Total number of ledger RPC round-trips.",
			"method", "outcome",
		),
		observability.MConfirmationPolls: metrics.Counter(
			string(observability.MConfirmationPolls),
			"Total number of transfer confirmation polls.",
			"outcome",
		),
		observability.MExternalRequests: metrics.Counter(
			string(observability.MExternalRequests),
			"Total number of calls to in-process external collaborators.",
			"peer", "endpoint", "outcome",
		),
		observability.MVendorsRegistered: metrics.Counter(
			string(observability.MVendorsRegistered),
			"Count of vendors added to the whitelist.",
		),
		observability.MPaymentsConfirmed: metrics.Counter(
			string(observability.MPaymentsConfirmed),
			"Count of payments confirmed by the ledger.",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: metrics.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: metrics.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
		observability.MLedgerRequestDuration: metrics.Histogram(
			string(observability.MLedgerRequestDuration),
			"Duration of ledger RPC round-trips in seconds.",
			prometheus.DefBuckets,
			"method",
		),
		observability.MExternalRequestDuration: metrics.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of calls to in-process external collaborators in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}
	tel := obsinfra.New(oteltrace.New("solpay"), obsLogger, counters, histograms)

	registry := memory.NewVendorRegistry()
	ledgerClient := solanaledger.New(os.Getenv("SOLANA_RPC_ENDPOINT"), tel)

	bus := outbox.NewBus(obsLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	auditWorker := audit.New(bus, tel)
	auditWorker.Start()

	registerVendor := appvendor.NewRegisterVendorUseCase(registry, bus, tel)
	listVendors := appvendor.NewListVendorsUseCase(registry, tel)
	executePayment := apppayment.NewExecutePaymentUseCase(
		registry,
		ledgerClient,
		id.NewUUIDGenerator(),
		bus,
		confirmPolicy(),
		tel,
	)

	handler := httppresentation.NewHandler(registerVendor, listVendors, executePayment, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

// listenPort resolves the listening port from the optional first CLI argument.
func listenPort(args []string) (int, error) {
	if len(args) == 0 || args[0] == "" {
		return defaultPort, nil
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("failed to parse provided port: %w", err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

func confirmPolicy() apppayment.ConfirmPolicy {
	policy := apppayment.DefaultConfirmPolicy()
	if v := os.Getenv("CONFIRM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			policy.MaxAttempts = n
		}
	}
	if v := os.Getenv("CONFIRM_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			policy.Interval = time.Duration(n) * time.Millisecond
		}
	}
	return policy
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
