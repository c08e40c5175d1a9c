package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/service"
	"github.com/garyjia/evoucher/internal/application/workflow"
	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/currency"
	"github.com/garyjia/evoucher/internal/export"
	"github.com/garyjia/evoucher/internal/infrastructure/external/rates"
	"github.com/garyjia/evoucher/internal/infrastructure/lock"
	"github.com/garyjia/evoucher/internal/infrastructure/persistence/kv"
	"github.com/garyjia/evoucher/internal/infrastructure/persistence/repository"
	"github.com/garyjia/evoucher/internal/observability/metrics"
	"github.com/garyjia/evoucher/pkg/utils"
)

type actorHeaders struct{ id, name, role string }

var (
	requester  = actorHeaders{"u-100", "Rina Santos", "Operations"}
	accounting = actorHeaders{"u-200", "Paolo Cruz", "Accounting"}
	anonymous  = actorHeaders{}
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := kv.NewMemoryStore()
	docs := repository.NewVoucherRepository(store, zap.NewNop())
	history := repository.NewHistoryRepository(store, zap.NewNop())
	ledger := repository.NewLedgerRepository(store, zap.NewNop())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, metrics.Config{ServiceName: "evoucher", Environment: "test"})

	table, err := rates.NewStaticRates(map[string]string{"USD/PHP": "56.00"})
	require.NoError(t, err)

	locker := lock.NewKeyedMutex()
	policy := workflow.NewPolicy()
	engine := workflow.NewEngine(docs, history, ledger,
		workflow.WithLocker(locker), workflow.WithPolicy(policy), workflow.WithMetrics(m))

	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	return NewServer(cfg, Deps{
		Engine:    engine,
		Vouchers:  service.NewVoucherService(docs, currency.NewResolver(table, currency.WithObserver(m)), locker),
		History:   service.NewHistoryReader(docs, history),
		Ledger:    ledger,
		Export:    export.NewLedgerWorkbook(zap.NewNop()),
		Rates:     table,
		Approvers: policy,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, utils.NewKVLogger(zap.NewNop()))
}

func do(t *testing.T, s *Server, method, path string, actor actorHeaders, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.id != "" {
		req.Header.Set(HeaderActorID, actor.id)
		req.Header.Set(HeaderActorName, actor.name)
		req.Header.Set(HeaderActorRole, actor.role)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp Response
	if json.Valid(w.Body.Bytes()) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func createVoucher(t *testing.T, s *Server, id string) {
	t.Helper()
	w, resp := do(t, s, http.MethodPost, "/api/vouchers", requester, map[string]interface{}{
		"id": id, "document_kind": "expense", "currency": "PHP", "purpose": "Import shipment",
	})
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
}

func TestVoucherLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	createVoucher(t, s, "EV-1")

	w, resp := do(t, s, http.MethodPost, "/api/vouchers/EV-1/line-items", requester, map[string]interface{}{
		"description": "Ocean freight", "quantity": "1", "unit_price": "100", "tax_type": "VAT", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	assert.Equal(t, "5600", dataMap(t, resp)["amount"])

	for _, step := range []struct {
		path  string
		actor actorHeaders
		body  interface{}
	}{
		{"/api/vouchers/EV-1/submit", requester, nil},
		{"/api/vouchers/EV-1/approve", accounting, nil},
		{"/api/vouchers/EV-1/post", accounting, nil},
	} {
		w, resp := do(t, s, http.MethodPost, step.path, step.actor, step.body)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.path, resp.Error)
	}

	w, resp = do(t, s, http.MethodGet, "/api/vouchers/EV-1", requester, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := dataMap(t, resp)
	assert.Equal(t, "POSTED", doc["status"])
	ref, _ := doc["posted_ledger_ref"].(string)
	require.NotEmpty(t, ref)
	lines, ok := doc["lines"].([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, "5600.00", lines[0].(map[string]interface{})["amount"])

	w, resp = do(t, s, http.MethodGet, "/api/ledger/expense/"+ref, accounting, nil)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	assert.Equal(t, "EV-1", dataMap(t, resp)["source_document_id"])

	w, resp = do(t, s, http.MethodGet, "/api/vouchers/EV-1/history", requester, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, history, 3)

	w, _ = do(t, s, http.MethodGet, "/api/ledger/export", accounting, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Ledger")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	w, _ = do(t, s, http.MethodGet, "/metrics", anonymous, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evoucher_ledger_postings_total")
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)
	createVoucher(t, s, "EV-1")

	tests := []struct {
		name   string
		method string
		path   string
		actor  actorHeaders
		body   interface{}
		want   int
	}{
		{"unknown voucher", http.MethodGet, "/api/vouchers/nope", requester, nil, http.StatusNotFound},
		{"anonymous submit", http.MethodPost, "/api/vouchers/EV-1/submit", anonymous, nil, http.StatusForbidden},
		{"requester approves", http.MethodPost, "/api/vouchers/EV-1/approve", requester, nil, http.StatusForbidden},
		{"approve a draft", http.MethodPost, "/api/vouchers/EV-1/approve", accounting, nil, http.StatusConflict},
		{"reject without reason", http.MethodPost, "/api/vouchers/EV-1/reject", accounting, map[string]string{}, http.StatusBadRequest},
		{"bad currency", http.MethodPost, "/api/vouchers", requester, map[string]string{"document_kind": "expense", "currency": "PESO"}, http.StatusBadRequest},
		{"unknown rate", http.MethodPost, "/api/vouchers/EV-1/line-items", requester, map[string]interface{}{
			"description": "Air", "quantity": "1", "unit_price": "10", "tax_type": "VAT", "currency": "EUR",
		}, http.StatusServiceUnavailable},
		{"unknown ledger kind", http.MethodGet, "/api/ledger/payroll/x", accounting, nil, http.StatusNotFound},
		{"rate change by requester", http.MethodPut, "/api/rates/USD/PHP", requester, map[string]string{"rate": "57"}, http.StatusForbidden},
		{"non-positive rate", http.MethodPut, "/api/rates/USD/PHP", accounting, map[string]string{"rate": "0"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, s, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, w.Code, resp.Error)
			assert.False(t, resp.Success)
		})
	}
}

func TestPermittedActionsAndRates(t *testing.T) {
	s := newTestServer(t)
	createVoucher(t, s, "EV-1")

	w, resp := do(t, s, http.MethodGet, "/api/vouchers/EV-1/actions", requester, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"SUBMIT", "CANCEL"}, resp.Data)

	w, resp = do(t, s, http.MethodPut, "/api/rates/usd/php", accounting, map[string]string{"rate": "57.50"})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	assert.Equal(t, "USD", dataMap(t, resp)["from"])

	w, resp = do(t, s, http.MethodPost, "/api/vouchers/EV-1/line-items", requester, map[string]interface{}{
		"description": "Ocean freight", "quantity": "2", "unit_price": "10", "tax_type": "VAT", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	assert.Equal(t, "1150", dataMap(t, resp)["amount"])
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w, resp := do(t, s, http.MethodGet, "/health", anonymous, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	s.deps.Health = func(context.Context) (bool, interface{}) { return false, map[string]string{"store": "down"} }
	s = NewServer(s.config, s.deps, s.logger)
	w, resp = do(t, s, http.MethodGet, "/health", anonymous, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", apperrors.ErrForbidden), http.StatusForbidden},
		{apperrors.NewTransitionError("d", "DRAFT", "APPROVE"), http.StatusConflict},
		{apperrors.ErrValidation, http.StatusBadRequest},
		{apperrors.ErrIntegrity, http.StatusInternalServerError},
		{apperrors.ErrRateUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
