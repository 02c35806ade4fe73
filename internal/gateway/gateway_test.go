package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePaymentLink(t *testing.T) {
	var got LinkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://pay.example/abc"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "sk_test", time.Second)
	link, err := c.CreatePaymentLink(context.Background(), LinkRequest{
		TxRef: "tx-1", Amount: 57000, Currency: "NGN", RedirectURL: "https://academy.example/payments/complete",
		Customer: Customer{Email: "ada@example.com", Name: "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", link)
	assert.Equal(t, "tx-1", got.TxRef)
	assert.EqualValues(t, 57000, got.Amount)
}

func TestCreatePaymentLink_Rejected(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"error status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid authorization key"}`))
		},
		"no link": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := NewClient(srv.URL, "k", time.Second).CreatePaymentLink(context.Background(), LinkRequest{TxRef: "x"})
			assert.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestCreatePaymentLink_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 20*time.Millisecond).CreatePaymentLink(context.Background(), LinkRequest{TxRef: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrRejected)
}
