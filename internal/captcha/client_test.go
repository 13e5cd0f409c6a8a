// File: internal/captcha/client_test.go
package captcha_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/captcha"
	"github.com/xkilldash9x/vouch-cli/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*captcha.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := captcha.NewClient(config.SolverConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 100,
	}, zaptest.NewLogger(t))
	return client, srv
}

func TestClient_SubmitRecaptcha(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/in.php", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-key", r.PostForm.Get("key"))
		assert.Equal(t, "userrecaptcha", r.PostForm.Get("method"))
		assert.Equal(t, "site-key-1", r.PostForm.Get("googlekey"))
		assert.Equal(t, "https://example.com/login", r.PostForm.Get("pageurl"))
		assert.Equal(t, "1", r.PostForm.Get("json"))
		w.Write([]byte(`{"status":1,"request":"9001"}`))
	})

	id, err := client.Submit(context.Background(), &schemas.Challenge{
		Kind:    schemas.ChallengeRecaptchaV2,
		SiteKey: "site-key-1",
		PageURL: "https://example.com/login",
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", id)
}

func TestClient_SubmitManagedChallenge(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "aws_waf", r.PostForm.Get("method"))
		assert.Equal(t, "waf-key", r.PostForm.Get("sitekey"))
		assert.Equal(t, "waf-iv", r.PostForm.Get("iv"))
		assert.Equal(t, "waf-ctx", r.PostForm.Get("context"))
		w.Write([]byte(`{"status":1,"request":"9002"}`))
	})

	id, err := client.Submit(context.Background(), &schemas.Challenge{
		Kind:    schemas.ChallengeManagedJS,
		Key:     "waf-key",
		IV:      "waf-iv",
		Context: "waf-ctx",
		PageURL: "https://example.com/login",
	})
	require.NoError(t, err)
	assert.Equal(t, "9002", id)
}

func TestClient_SubmitWithoutAPIKey(t *testing.T) {
	client := captcha.NewClient(config.SolverConfig{}, zaptest.NewLogger(t))
	_, err := client.Submit(context.Background(), &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2})
	assert.ErrorIs(t, err, schemas.ErrSolverUnavailable)
}

func TestClient_SubmitRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"request":"ERROR_WRONG_GOOGLEKEY"}`))
	})
	_, err := client.Submit(context.Background(), &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_WRONG_GOOGLEKEY")
}

func TestClient_PollClassification(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected schemas.ChallengeStatus
		token    string
	}{
		{"solved", `{"status":1,"request":"the-token"}`, schemas.ChallengeSolved, "the-token"},
		{"pending", `{"status":0,"request":"CAPCHA_NOT_READY"}`, schemas.ChallengePending, ""},
		{"unsolvable", `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`, schemas.ChallengeUnsolvable, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/res.php", r.URL.Path)
				assert.Equal(t, "get", r.URL.Query().Get("action"))
				assert.Equal(t, "9001", r.URL.Query().Get("id"))
				w.Write([]byte(tc.body))
			})
			outcome, err := client.Poll(context.Background(), "9001")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, outcome.Status)
			assert.Equal(t, tc.token, outcome.Token)
		})
	}
}

func TestClient_PollProtocolError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"request":"ERROR_KEY_DOES_NOT_EXIST"}`))
	})
	_, err := client.Poll(context.Background(), "9001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_KEY_DOES_NOT_EXIST")
}

func TestClient_HTTPErrorSurfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.Poll(context.Background(), "9001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
