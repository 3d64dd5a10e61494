package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Hour, Scope: func(r *http.Request) string { return r.Header.Get("X-Tenant-ID") }}, mr
}

func send(h http.Handler, key, tenantID string) int {
	req := httptest.NewRequest(http.MethodPost, "/pricing/commit", nil)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	req.Header.Set("X-Tenant-ID", tenantID)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestIdemRejectsReplay(t *testing.T) {
	idem, mr := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	require.Equal(t, http.StatusOK, send(h, "order-42", "acme"))
	require.Equal(t, http.StatusConflict, send(h, "order-42", "acme"))
	require.Equal(t, http.StatusOK, send(h, "order-42", "globex"))
	require.Equal(t, 2, calls)

	require.Equal(t, http.StatusOK, send(h, "", "acme"))
	require.Equal(t, http.StatusOK, send(h, "", "acme"))
	require.Equal(t, 4, calls)

	mr.FastForward(2 * time.Hour)
	require.Equal(t, http.StatusOK, send(h, "order-42", "acme"))
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem, _ := newIdem(t)
	status := http.StatusServiceUnavailable
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	require.Equal(t, http.StatusServiceUnavailable, send(h, "order-7", "acme"))
	status = http.StatusOK
	require.Equal(t, http.StatusOK, send(h, "order-7", "acme"))
	require.Equal(t, http.StatusConflict, send(h, "order-7", "acme"))
}

func TestIdemStoreDown(t *testing.T) {
	idem, mr := newIdem(t)
	mr.Close()
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	require.Equal(t, http.StatusServiceUnavailable, send(h, "k", "acme"))
}
