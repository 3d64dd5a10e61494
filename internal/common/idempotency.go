package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// Idem provides an Idempotency-Key middleware backed by Redis. A key is locked
// for TTL on first use; replays within the window are rejected with 409. A
// request that fails with a 5xx releases its key so the client may retry.
type Idem struct {
	R   redis.Cmdable
	TTL time.Duration
	// Scope namespaces keys, e.g. by tenant. Nil uses the request path only.
	Scope func(*http.Request) string
}

func (i Idem) key(r *http.Request, header string) string {
	parts := []string{r.URL.Path, header}
	if i.Scope != nil {
		parts = append([]string{i.Scope(r)}, parts...)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ctx := r.Context()
		key := i.key(r, header)
		ok, err := i.R.SetNX(ctx, key, "locked", ttl).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, CodeIdempotencyStore, "idempotency store error", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, CodeIdempotentReplay, "duplicate request", nil)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			if rec := recover(); rec != nil {
				_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
				panic(rec)
			}
		}()
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusInternalServerError {
			_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
		}
	})
}
