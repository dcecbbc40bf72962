package sync_api

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

func TestNewClient(t *testing.T) {
	t.Run("a host is required", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)

		_, err = NewClient(&Config{})
		assert.Error(t, err)
	})
}

func TestClient_Push(t *testing.T) {
	t.Run("records are posted per kind with the token", func(t *testing.T) {
		var gotPath, gotAuth string
		var got Record

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		client, err := NewClient(&Config{ApiHost: srv.URL + "/", Token: "t0k"})
		require.NoError(t, err)

		rec := Record{Kind: KindGoal, ID: "g1", Text: "ship billing", Status: "active", At: time.Unix(1700000000, 0).UTC()}
		require.NoError(t, client.Push(context.Background(), rec))

		assert.Equal(t, "/knowledge/goals", gotPath)
		assert.Equal(t, "Bearer t0k", gotAuth)
		assert.Equal(t, rec, got)
	})

	t.Run("a server error is reported", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client, err := NewClient(&Config{ApiHost: srv.URL})
		require.NoError(t, err)

		err = client.Push(context.Background(), Record{Kind: KindMilestone, ID: "m1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}
