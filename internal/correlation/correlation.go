// Package correlation carries a request correlation identifier through
// contexts and across HTTP hops between discovery peers and query handlers.
package correlation

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pkt.systems/oscquery/api"
)

// MaxIDLength defines the maximum number of characters accepted for correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

type state struct {
	mu sync.RWMutex
	id string
}

// Ensure attaches correlation state to ctx if not already present.
func Ensure(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(contextKey{}).(*state); ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, &state{})
}

// Set records the correlation ID on ctx and returns the context carrying the
// state. Invalid identifiers are ignored.
func Set(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	ctx = Ensure(ctx)
	st := ctx.Value(contextKey{}).(*state)
	st.mu.Lock()
	st.id = normalized
	st.mu.Unlock()
	return ctx
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	st, ok := ctx.Value(contextKey{}).(*state)
	if !ok || st == nil {
		return ""
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.id
}

// Has reports whether ctx carries a correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// Normalize validates and canonicalizes an external correlation identifier.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate produces a new time-ordered (UUIDv7) identifier. It also names
// individual requests in logs.
func Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Inject copies the correlation ID on ctx into an outbound request header,
// generating one when ctx has none. It returns the ID that was sent.
func Inject(ctx context.Context, header http.Header) string {
	id := ID(ctx)
	if id == "" {
		id = Generate()
	}
	header.Set(api.HeaderCorrelationID, id)
	return id
}
