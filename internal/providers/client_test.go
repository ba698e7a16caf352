package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

const (
	testProvider = "TestProvider"
	mimeHTML     = "text/html; charset=utf-8"
	okBody       = `{"value":"ok"}`
)

func newTestClient() *Client {
	logger := zerolog.Nop()

	return NewClient(ClientConfig{
		DefaultInterval: time.Millisecond,
		RetryDelay:      time.Millisecond,
		ServerBackoff:   time.Millisecond,
		AcceptedDelay:   time.Millisecond,
		Cooldown:        time.Millisecond,
	}, &logger)
}

type reply struct {
	status      int
	contentType string
	body        string
	header      map[string]string
}

// scripted serves replies in order and repeats the last one.
func scripted(t *testing.T, replies ...reply) (*httptest.Server, *int32) {
	t.Helper()

	var calls int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}

		r := replies[n]
		for k, v := range r.header {
			w.Header().Set(k, v)
		}

		if r.contentType != "" {
			w.Header().Set(headerContentType, r.contentType)
		}

		w.WriteHeader(r.status)

		if _, err := w.Write([]byte(r.body)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	t.Cleanup(ts.Close)

	return ts, &calls
}

func TestClient_GetJSON_Classification(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		replies  []reply
		wantKind apperrors.Kind
		wantErr  error
		calls    int32
	}{
		{
			name:     "ok",
			provider: testProvider,
			replies:  []reply{{status: http.StatusOK, contentType: mimeJSON, body: okBody}},
			calls:    1,
		},
		{
			name:     "429 is rate limited",
			provider: testProvider,
			replies:  []reply{{status: http.StatusTooManyRequests, contentType: mimeJSON, body: `{}`, header: map[string]string{headerRetryAfter: "2"}}},
			wantKind: apperrors.KindRateLimited,
			wantErr:  apperrors.ErrRateLimited,
			calls:    1,
		},
		{
			name:     "non-JSON twice is blocked",
			provider: testProvider,
			replies:  []reply{{status: http.StatusOK, contentType: mimeHTML, body: "<html>captcha</html>"}},
			wantKind: apperrors.KindBlocked,
			wantErr:  apperrors.ErrBlocked,
			calls:    2,
		},
		{
			name:     "non-JSON then JSON succeeds",
			provider: testProvider,
			replies: []reply{
				{status: http.StatusOK, contentType: mimeHTML, body: "<html>busy</html>"},
				{status: http.StatusOK, contentType: mimeJSON, body: okBody},
			},
			calls: 2,
		},
		{
			name:     "GDELT bad query is malformed",
			provider: NameGDELT,
			replies:  []reply{{status: http.StatusOK, contentType: "text/plain", body: "Your query was too short or too long."}},
			wantKind: apperrors.KindMalformedQuery,
			wantErr:  apperrors.ErrMalformedQuery,
			calls:    2,
		},
		{
			name:     "invalid JSON is network failure",
			provider: testProvider,
			replies:  []reply{{status: http.StatusOK, contentType: mimeJSON, body: `{"value":`}},
			wantKind: apperrors.KindNetwork,
			wantErr:  apperrors.ErrNetwork,
			calls:    1,
		},
		{
			name:     "5xx retried then succeeds",
			provider: testProvider,
			replies: []reply{
				{status: http.StatusBadGateway, contentType: mimeHTML, body: "bad gateway"},
				{status: http.StatusOK, contentType: mimeJSON, body: okBody},
			},
			calls: 2,
		},
		{
			name:     "persistent 5xx is network failure",
			provider: testProvider,
			replies:  []reply{{status: http.StatusServiceUnavailable, contentType: mimeHTML, body: "down"}},
			wantKind: apperrors.KindNetwork,
			wantErr:  apperrors.ErrNetwork,
			calls:    defaultServerRetries + 1,
		},
		{
			name:     "persistent 202 is network failure",
			provider: testProvider,
			replies:  []reply{{status: http.StatusAccepted, contentType: mimeJSON, body: `{}`}},
			wantKind: apperrors.KindNetwork,
			wantErr:  apperrors.ErrNetwork,
			calls:    defaultAcceptedRetries + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, calls := scripted(t, tt.replies...)
			c := newTestClient()

			var out struct {
				Value string `json:"value"`
			}

			err := c.GetJSON(context.Background(), tt.provider, ts.URL, nil, nil, &out)

			assert.Equal(t, tt.calls, atomic.LoadInt32(calls))

			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "ok", out.Value)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, apperrors.KindOf(err))
			assert.Equal(t, tt.provider, apperrors.ProviderOf(err))
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := ts.URL
	ts.Close()

	err := newTestClient().GetJSON(context.Background(), testProvider, target, nil, nil, &struct{}{})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestClient_CancelledContext(t *testing.T) {
	ts, _ := scripted(t, reply{status: http.StatusOK, contentType: mimeJSON, body: okBody})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestClient().GetJSON(ctx, testProvider, ts.URL, nil, nil, &struct{}{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsProviderScoped(err))
}

func TestClient_RetryAfterSlowsHost(t *testing.T) {
	ts, _ := scripted(t, reply{status: http.StatusTooManyRequests, body: "slow down", header: map[string]string{headerRetryAfter: "5"}})
	c := newTestClient()

	err := c.GetJSON(context.Background(), testProvider, ts.URL, nil, nil, &struct{}{})
	require.ErrorIs(t, err, apperrors.ErrRateLimited)

	host := strings.TrimPrefix(ts.URL, "http://")
	assert.InDelta(t, 0.2, float64(c.host(host).limiter.Limit()), 0.001)
}

func TestClient_CooldownAfterConsecutiveBlocks(t *testing.T) {
	ts, _ := scripted(t, reply{status: http.StatusOK, contentType: mimeHTML, body: "<html>blocked</html>"})
	c := newTestClient()
	c.cfg.Cooldown = time.Hour

	host := strings.TrimPrefix(ts.URL, "http://")

	require.ErrorIs(t, c.GetJSON(context.Background(), testProvider, ts.URL, nil, nil, &struct{}{}), apperrors.ErrBlocked)
	assert.True(t, c.host(host).cooldownUntil.IsZero())

	// The second consecutive block starts the cooldown.
	c.Blocked(ts.URL)
	assert.True(t, c.host(host).cooldownUntil.After(time.Now()))
}

func TestClient_GetBody(t *testing.T) {
	ts, _ := scripted(t, reply{status: http.StatusOK, contentType: "application/rss+xml", body: "<rss></rss>"})

	body, err := newTestClient().GetBody(context.Background(), testProvider, ts.URL, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "<rss></rss>", string(body))
}

func TestClient_GetBodyForbidden(t *testing.T) {
	ts, _ := scripted(t, reply{status: http.StatusForbidden, body: "denied"})

	_, err := newTestClient().GetBody(context.Background(), testProvider, ts.URL, nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBlocked)
}
