package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/pkg/config"
)

func newTestClient(url string) *Client {
	return NewClient(&config.Config{InGame: config.InGameConfig{IdentityFeedURL: url, IdentityTimeout: time.Second}}, zap.NewNop().Sugar())
}

func TestExists(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
	}{
		{name: "known player", status: 200, body: "1234,2277,4600000000\n-1,-1\n", want: true},
		{name: "unknown player", status: 404, body: "<html>not found</html>", want: false},
		{name: "empty body", status: 200, body: "  ", want: false},
		{name: "html body", status: 200, body: "<html>maintenance</html>", want: false},
		{name: "feed down", status: 502, body: "", wantErr: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPlayer string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPlayer = r.URL.Query().Get("player")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ok, err := newTestClient(srv.URL).Exists(context.Background(), " Zezima ")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, "Zezima", gotPlayer)
		})
	}
}

func TestExists_MalformedNameSkipsFeed(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Exists(context.Background(), "this name is far too long")
	assert.ErrorIs(t, err, ErrMalformedName)
	assert.False(t, called)
}

func TestNormalizeName(t *testing.T) {
	n, err := NormalizeName("  Iron_Man-1 ")
	require.NoError(t, err)
	assert.Equal(t, "Iron_Man-1", n)

	for _, bad := range []string{"", "   ", "abc$", "thirteenchars"} {
		_, err := NormalizeName(bad)
		assert.ErrorIs(t, err, ErrMalformedName, bad)
	}
}
