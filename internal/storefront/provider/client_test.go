package provider

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

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret", time.Second, 0, nil)
}

func TestGetPlayerInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "12345678", body["playerID"])
			w.Write([]byte(`{"success":true}`))
		case http.MethodGet:
			assert.Equal(t, "12345678", r.URL.Query().Get("playerID"))
			w.Write([]byte(`{"success":true,"player_name":"Nick","region":"CIS"}`))
		}
	})

	info, err := c.GetPlayerInfo(context.Background(), "12345678")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Nick", info.PlayerName)
	assert.Equal(t, "CIS", info.Region)
}

func TestGetPlayerInfoNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"player not found"}`))
	})

	info, err := c.GetPlayerInfo(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCreateTopUp(t *testing.T) {
	tests := []struct {
		name     string
		response string
		status   int
		wantID   func(t *testing.T, sent, got string)
		wantErr  bool
	}{
		{
			name:     "uses sent id",
			response: `{"success":true}`,
			status:   http.StatusOK,
			wantID:   func(t *testing.T, sent, got string) { assert.Equal(t, sent, got) },
		},
		{
			name:     "provider id wins",
			response: `{"success":true,"trxID":"prov-1"}`,
			status:   http.StatusOK,
			wantID:   func(t *testing.T, _, got string) { assert.Equal(t, "prov-1", got) },
		},
		{
			name:     "declined",
			response: `{"success":false}`,
			status:   http.StatusOK,
			wantID:   func(t *testing.T, _, got string) { assert.Empty(t, got) },
		},
		{
			name:     "server error",
			response: `oops`,
			status:   http.StatusBadGateway,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/topup", r.URL.Path)
				var body struct {
					PlayerID string `json:"playerID"`
					Offer    int64  `json:"offer"`
					TrxID    string `json:"trx_id"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, int64(7), body.Offer)
				sent = body.TrxID
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.response))
			})

			got, err := c.CreateTopUp(context.Background(), "12345678", 7)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnavailable)
				return
			}
			require.NoError(t, err)
			tt.wantID(t, sent, got)
		})
	}
}

func TestGetTransactionStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["trx_id"] == "known" {
			w.Write([]byte(`{"success":true,"status":"DONE","player_id":"12345678"}`))
			return
		}
		w.Write([]byte(`{"success":false}`))
	})

	status, err := c.GetTransactionStatus(context.Background(), "known")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, StatusDone, status.Status)

	status, err = c.GetTransactionStatus(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestRateLimitedIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetTransactionStatus(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "retry after 5 seconds")
}

func TestTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "", 20*time.Millisecond, 0, nil)

	_, err := c.CreateTopUp(context.Background(), "1", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	info, err := m.GetPlayerInfo(ctx, UnknownPlayerID)
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = m.GetPlayerInfo(ctx, "12345674")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "CIS", info.Region)

	trx, err := m.CreateTopUp(ctx, "12345674", 1)
	require.NoError(t, err)
	first, err := m.GetTransactionStatus(ctx, trx)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, first.Status)
	second, err := m.GetTransactionStatus(ctx, trx)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, second.Status)
}
