package vaultapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"evovault/core/identity"
	"evovault/core/reconcile"
	"evovault/core/session"
	"evovault/core/wallet"
	"evovault/core/withdrawals"
	"evovault/storage"
)

type testEnv struct {
	handler    http.Handler
	reconciler *reconcile.Reconciler
	sessions   *session.Registry
	registry   *prometheus.Registry
	seed       wallet.SeedHash
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN(uuid.NewString()), storage.WithMetrics(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rec, err := reconcile.New(store, reconcile.WithMetrics(nil))
	require.NoError(t, err)

	sessions := session.NewRegistry(session.WithMetrics(nil))
	t.Cleanup(func() { _ = sessions.Close() })

	seed := wallet.SeedHash{9}
	registry := prometheus.NewRegistry()
	srv, err := New(Config{
		Identities: rec,
		Sessions:   sessions,
		Wallets:    wallet.NewSet(&wallet.Wallet{SeedHash: seed, Alias: "main", IsMain: true}),
		Gatherer:   registry,
	})
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), reconciler: rec, sessions: sessions, registry: registry, seed: seed}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func testIdentity(b byte, kind identity.IdentityType) *identity.QualifiedIdentity {
	qi := identity.NewQualifiedIdentity(identity.Identifier{b}, kind)
	qi.Balance = 500
	qi.Revision = 2
	qi.AddPublicKey(identity.PublicKey{
		ID:            1,
		Purpose:       identity.PurposeAuthentication,
		SecurityLevel: identity.SecurityHigh,
		Type:          identity.KeyECDSASecp256k1,
		Data:          bytes.Repeat([]byte{b}, 33),
	})
	qi.AddPublicKey(identity.PublicKey{
		ID:            0,
		Purpose:       identity.PurposeAuthentication,
		SecurityLevel: identity.SecurityMaster,
		Type:          identity.KeyECDSASecp256k1,
		Data:          bytes.Repeat([]byte{b + 1}, 33),
	})
	return qi
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vaultapi_test_total", Help: "test"})
	env.registry.MustRegister(counter)
	counter.Inc()
	resp := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "vaultapi_test_total 1")
}

func decodeIdentities(t *testing.T, resp *httptest.ResponseRecorder) []identityView {
	t.Helper()
	var listed struct {
		Identities []identityView `json:"identities"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listed))
	return listed.Identities
}

func decodeIdentity(t *testing.T, resp *httptest.ResponseRecorder) identityView {
	t.Helper()
	var single identityView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &single))
	return single
}

func TestIdentityEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := testIdentity(1, identity.User)
	node := testIdentity(2, identity.Evonode)
	require.NoError(t, env.reconciler.CreateLocalWithWallet(ctx, identity.Testnet, user, env.seed, 3))
	require.NoError(t, env.reconciler.CreateLocal(ctx, identity.Testnet, node))

	resp := env.do(t, http.MethodGet, "/v1/testnet/identities", "")
	require.Equal(t, http.StatusOK, resp.Code)
	listed := decodeIdentities(t, resp)
	require.Len(t, listed, 2)

	resp = env.do(t, http.MethodGet, "/v1/testnet/identities?type=user", "")
	require.Equal(t, http.StatusOK, resp.Code)
	listed = decodeIdentities(t, resp)
	require.Len(t, listed, 1)
	got := listed[0]
	require.Equal(t, user.ID, got.ID)
	require.Equal(t, env.seed.String(), got.Wallet)
	require.NotNil(t, got.WalletIndex)
	require.EqualValues(t, 3, *got.WalletIndex)
	require.Len(t, got.PublicKeys, 2)
	require.EqualValues(t, 0, got.PublicKeys[0].ID, "keys are listed by id")

	resp = env.do(t, http.MethodGet, "/v1/mainnet/identities", "")
	require.Equal(t, http.StatusOK, resp.Code)
	listed = decodeIdentities(t, resp)
	require.Empty(t, listed, "networks are isolated")

	path := "/v1/testnet/identities/" + user.ID.String()
	resp = env.do(t, http.MethodPut, path+"/alias", `{"alias":"  savings  "}`)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, resp.Code)
	single := decodeIdentity(t, resp)
	require.NotNil(t, single.Alias)
	require.Equal(t, "savings", *single.Alias)
	require.Equal(t, "savings", single.DisplayName)

	resp = env.do(t, http.MethodPost, path+"/top-ups", `{"index":0,"amount":250}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	resp = env.do(t, http.MethodPost, path+"/top-ups", `{"index":0,"amount":999}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"recorded":false}`, resp.Body.String())

	resp = env.do(t, http.MethodGet, path, "")
	single = decodeIdentity(t, resp)
	require.Equal(t, []topUpView{{Index: 0, Amount: 250}}, single.TopUps)

	resp = env.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestIdentityValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	id := identity.Identifier{7}.String()
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown network", http.MethodGet, "/v1/moon/identities", "", http.StatusBadRequest},
		{"bad type filter", http.MethodGet, "/v1/testnet/identities?type=robot", "", http.StatusBadRequest},
		{"bad identifier", http.MethodGet, "/v1/testnet/identities/0OIl", "", http.StatusBadRequest},
		{"alias on missing identity", http.MethodPut, "/v1/testnet/identities/" + id + "/alias", `{"alias":"x"}`, http.StatusNotFound},
		{"alias too long", http.MethodPut, "/v1/testnet/identities/" + id + "/alias", `{"alias":"` + strings.Repeat("a", 65) + `"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/v1/testnet/identities/" + id + "/alias", `{"name":"x"}`, http.StatusBadRequest},
		{"top-up without index", http.MethodPost, "/v1/testnet/identities/" + id + "/top-ups", `{"amount":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())
		})
	}
}

func record(minute int, status string, amount uint64) map[string]any {
	return map[string]any{
		"date_time": time.Date(2024, 3, 1, 0, minute, 0, 0, time.UTC).Format(time.RFC3339),
		"status":    status,
		"amount":    amount,
		"owner_id":  identity.Identifier{1}.String(),
		"address":   "yDest",
	}
}

func postResult(t *testing.T, env *testEnv, network string, total uint64, records ...map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"total_amount": total, "withdrawals": records})
	require.NoError(t, err)
	return env.do(t, http.MethodPost, "/v1/"+network+"/withdrawals/results", string(body))
}

// decodeView decodes into a fresh value so omitted fields do not carry over
// from an earlier response.
func decodeView(t *testing.T, resp *httptest.ResponseRecorder) session.View {
	t.Helper()
	var view session.View
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	return view
}

func TestWithdrawalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/testnet/withdrawals", "")
	require.Equal(t, http.StatusOK, resp.Code)
	view := decodeView(t, resp)
	require.False(t, view.Populated)

	resp = postResult(t, env, "testnet", 100, record(0, "QUEUED", 10))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.JSONEq(t, `{"added":1,"duplicates":0,"size":1}`, resp.Body.String())
	resp = postResult(t, env, "testnet", 150, record(1, "COMPLETE", 20), record(0, "QUEUED", 10), record(2, "QUEUED", 30))
	require.JSONEq(t, `{"added":2,"duplicates":1,"size":3}`, resp.Body.String())

	resp = env.do(t, http.MethodGet, "/v1/testnet/withdrawals", "")
	view = decodeView(t, resp)
	require.True(t, view.Populated)
	require.EqualValues(t, 150, view.TotalAmount)
	require.Len(t, view.Records, 3)
	require.EqualValues(t, 30, view.Records[0].Amount, "newest first by default")

	resp = env.do(t, http.MethodGet, "/v1/testnet/withdrawals?status=queued&sort=amount&asc=true", "")
	require.Equal(t, http.StatusOK, resp.Code)
	view = decodeView(t, resp)
	require.Len(t, view.Records, 2)
	require.EqualValues(t, 10, view.Records[0].Amount)
	require.Equal(t, withdrawals.StatusQueued, view.Records[1].Status)

	resp = env.do(t, http.MethodGet, "/v1/testnet/withdrawals?status=", "")
	view = decodeView(t, resp)
	require.Empty(t, view.Records, "empty status filter shows nothing")

	resp = env.do(t, http.MethodGet, "/v1/mainnet/withdrawals", "")
	view = decodeView(t, resp)
	require.False(t, view.Populated, "sessions are per network")

	resp = env.do(t, http.MethodPost, "/v1/testnet/withdrawals/failures", `{"message":"dapi timeout"}`)
	require.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(t, http.MethodGet, "/v1/testnet/withdrawals", "")
	view = decodeView(t, resp)
	require.Equal(t, "dapi timeout", view.Error)

	resp = env.do(t, http.MethodPost, "/v1/testnet/withdrawals/refresh", "")
	require.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(t, http.MethodGet, "/v1/testnet/withdrawals", "")
	view = decodeView(t, resp)
	require.False(t, view.Populated)
	require.Empty(t, view.Error)
}

func TestWithdrawalQueryValidation(t *testing.T) {
	env := newTestEnv(t)
	for _, query := range []string{"status=LOST", "sort=colour", "asc=maybe", "page=x", "page_size=12"} {
		resp := env.do(t, http.MethodGet, "/v1/testnet/withdrawals?"+query, "")
		require.Equal(t, http.StatusBadRequest, resp.Code, query)
	}
	resp := env.do(t, http.MethodPost, "/v1/testnet/withdrawals/results", `{"withdrawals":[{"status":"LOST"}]}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = env.do(t, http.MethodPost, "/v1/testnet/withdrawals/failures", `{"message":"  "}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, statusFor(session.ErrSessionClosed))
	require.Equal(t, http.StatusInternalServerError, statusFor(context.Canceled))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
