package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apppayment "github.com/Zhima-Mochi/solpay-gateway/internal/application/payment"
	appvendor "github.com/Zhima-Mochi/solpay-gateway/internal/application/vendor"
	domledger "github.com/Zhima-Mochi/solpay-gateway/internal/domain/ledger"
	"github.com/Zhima-Mochi/solpay-gateway/internal/infrastructure/memory"
)

type fakeSigner string

func (s fakeSigner) Account() string { return "buyer-account" }

type fakeAccount string

func (a fakeAccount) String() string { return string(a) }

// fakeLedger confirms on the first poll unless an error is scripted.
type fakeLedger struct {
	decodeSignerErr error
	submitErr       error
}

func (l *fakeLedger) DecodeSigner(secret string) (domledger.Signer, error) {
	if l.decodeSignerErr != nil {
		return nil, l.decodeSignerErr
	}
	return fakeSigner(secret), nil
}

func (l *fakeLedger) DecodeAccount(addr string) (domledger.Account, error) {
	return fakeAccount(addr), nil
}

func (l *fakeLedger) LatestReference(ctx context.Context) (domledger.Reference, error) {
	return "ref-1", nil
}

func (l *fakeLedger) SubmitTransfer(ctx context.Context, from domledger.Signer, to domledger.Account, lamports uint64, ref domledger.Reference) (domledger.TxID, error) {
	if l.submitErr != nil {
		return "", l.submitErr
	}
	return "tx-1", nil
}

func (l *fakeLedger) Confirmed(ctx context.Context, id domledger.TxID) (bool, error) {
	return true, nil
}

type seqID int

func (s *seqID) NewID() string {
	*s++
	return "pay-test"
}

func newTestRouter(t *testing.T, ledger *fakeLedger) http.Handler {
	t.Helper()
	registry := memory.NewVendorRegistry()
	var ids seqID
	handler := NewHandler(
		appvendor.NewRegisterVendorUseCase(registry, nil, nil),
		appvendor.NewListVendorsUseCase(registry, nil),
		apppayment.NewExecutePaymentUseCase(registry, ledger, &ids, nil, apppayment.ConfirmPolicy{MaxAttempts: 3}, nil),
		nil,
	)
	return handler.Router()
}

func doRequest(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterThenListVendors(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	first := `{"wallet_id":"V1","name":"Acme","address":"addr-1","services":["repair"]}`
	second := `{"wallet_id":"V2","name":"Globex","address":"addr-2"}`
	for _, body := range []string{first, second} {
		rec := doRequest(t, router, http.MethodPost, "/vendors", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("register body must be empty, got %q", rec.Body.String())
		}
	}

	rec := doRequest(t, router, http.MethodGet, "/vendors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}

	var listed []struct {
		WalletID string   `json:"wallet_id"`
		Name     string   `json:"name"`
		Address  string   `json:"address"`
		Services []string `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 vendors, got %d", len(listed))
	}
	if listed[0].WalletID != "V1" || listed[1].WalletID != "V2" {
		t.Fatalf("insertion order not preserved: %+v", listed)
	}
	// A vendor registered without services must list as "services":[].
	if !strings.Contains(rec.Body.String(), `"services":[]`) {
		t.Fatalf("missing empty services array in %s", rec.Body.String())
	}
}

func TestListVendorsEmptyIsJSONArray(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	rec := doRequest(t, router, http.MethodGet, "/vendors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("empty list must encode as [], got %q", got)
	}
}

func TestBuyHappyPath(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	rec := doRequest(t, router, http.MethodPost, "/vendors", `{"wallet_id":"V1","name":"Acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("register returned %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/buy",
		`{"lamports":100,"vendor":"V1","buyer_pair":"secret-key"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("buy body must be empty on success, got %q", rec.Body.String())
	}
}

func TestBuyUnknownVendorIsForbidden(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	rec := doRequest(t, router, http.MethodPost, "/buy",
		`{"lamports":100,"vendor":"V2","buyer_pair":"secret-key"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "V2 is not whitelisted" {
		t.Fatalf("unexpected error message: %q", body["error"])
	}
}

func TestBuyMalformedCredentialIsBadRequest(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{
		decodeSignerErr: errors.New("bad base58: top-secret-key"),
	})

	rec := doRequest(t, router, http.MethodPost, "/vendors", `{"wallet_id":"V1","name":"Acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("register returned %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/buy",
		`{"lamports":100,"vendor":"V1","buyer_pair":"top-secret-key"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "top-secret-key") {
		t.Fatalf("response must not echo the credential: %s", rec.Body.String())
	}
}

func TestBuySubmissionFailureIsBadGateway(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{submitErr: errors.New("insufficient funds")})

	rec := doRequest(t, router, http.MethodPost, "/vendors", `{"wallet_id":"V1","name":"Acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("register returned %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/buy",
		`{"lamports":100,"vendor":"V1","buyer_pair":"secret-key"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestBuyRejectsInvalidJSON(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	rec := doRequest(t, router, http.MethodPost, "/buy", `{"lamports":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for truncated JSON, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/buy",
		`{"lamports":100,"vendor":"V1","buyer_pair":"s","extra":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	rec := doRequest(t, router, http.MethodGet, "/buy", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /buy: expected 405, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/vendors", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /vendors: expected 405, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &fakeLedger{})

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected health body %q", rec.Body.String())
	}
}
