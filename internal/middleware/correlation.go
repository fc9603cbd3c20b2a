package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const CorrelationIDKey contextKey = "correlation_id"

// CorrelationHeader carries the correlation ID in requests and responses
const CorrelationHeader = "X-Correlation-ID"

// Correlation middleware reuses a valid X-Correlation-ID or assigns a new one
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(CorrelationHeader))
		if err != nil {
			id = uuid.New()
		}

		w.Header().Set(CorrelationHeader, id.String())
		ctx := context.WithValue(r.Context(), CorrelationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID extracts the correlation ID from context
func GetCorrelationID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(CorrelationIDKey).(uuid.UUID)
	return id, ok
}
