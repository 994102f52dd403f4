package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGatewaySendsIdempotencyKey(t *testing.T) {
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"url":"https://pay.example/s"}`))
	}))
	defer server.Close()

	session, err := NewHTTPGateway(server.URL, time.Second).CreateCheckout(context.Background(), GatewayRequest{Reference: "pay_42"})
	require.NoError(t, err)
	assert.Equal(t, "pay_42", key)
	assert.Equal(t, "pay_42", session.ID)
	assert.Equal(t, "https://pay.example/s", session.URL)
}

func TestHTTPGatewayErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"provider error", http.StatusBadGateway, `upstream down`},
		{"missing url", http.StatusOK, `{"id":"cs_1"}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPGateway(server.URL, time.Second).CreateCheckout(context.Background(), GatewayRequest{Reference: "pay_1"})
			assert.Error(t, err)
		})
	}
}
