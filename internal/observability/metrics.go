package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MLedgerRequests          MetricKey = "ledger_requests_total"
	MLedgerRequestDuration   MetricKey = "ledger_request_duration_seconds"
	MConfirmationPolls       MetricKey = "confirmation_polls_total"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MVendorsRegistered       MetricKey = "vendors_registered_total"
	MPaymentsConfirmed       MetricKey = "payments_confirmed_total"
)
