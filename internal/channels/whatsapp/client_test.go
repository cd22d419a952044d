package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSend(t *testing.T) {
	var got sendRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "provider-token", nil)
	err := c.Send(context.Background(), "+5215512345678", "hola")
	require.NoError(t, err)

	assert.Equal(t, "Bearer provider-token", gotAuth)
	assert.Equal(t, "+5215512345678", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "hola", got.Text.Body)
}

func TestClientSendNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "provider is down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	err := c.Send(context.Background(), "+521555", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
