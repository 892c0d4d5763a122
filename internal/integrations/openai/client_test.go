package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"captain-agent/internal/domain"
)

// ---------------------------------------------------------------------------
// URL helpers
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestModerationURL(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1/moderations", moderationURL(""))
	require.Equal(t, "http://localhost:8080/v1/moderations", moderationURL("http://localhost:8080/"))
}

// ---------------------------------------------------------------------------
// NewClient and key resolution
// ---------------------------------------------------------------------------

// fakeTokens is a minimal TokenSource stub.
type fakeTokens struct {
	val   string
	err   error
	calls int
	names []string
}

func (f *fakeTokens) Token(_ context.Context, name string) (string, error) {
	f.calls++
	f.names = append(f.names, name)
	return f.val, f.err
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key or token source")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-static"), WithModel("  "))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, defaultModel, c.model)
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	src := &fakeTokens{val: "sk-from-ssm"}
	c, err := NewClient(WithTokenSource(src))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, src.calls, "token source must only be called once per process lifetime")
	require.Equal(t, []string{"open-ai-token"}, src.names)
}

func TestResolveAPIKey_StaticKeyWins(t *testing.T) {
	src := &fakeTokens{val: "sk-from-ssm"}
	c, err := NewClient(WithTokenSource(src), WithAPIKey("sk-static"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
	require.Zero(t, src.calls)
}

func TestResolveAPIKey_SourceError(t *testing.T) {
	c, err := NewClient(WithTokenSource(&fakeTokens{err: errors.New("ssm unavailable")}))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "hi")
	require.ErrorContains(t, err, "ssm unavailable")
}

// ---------------------------------------------------------------------------
// Decide / Complete
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		WithTokenSource(&fakeTokens{val: "sk-test"}),
		WithBaseURL(srv.URL),
		WithModel("gpt-mock"),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-123",
		"choices": []any{map[string]any{
			"index":   0,
			"message": map[string]string{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestClient_Decide_SendsDecisionSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"model":"gpt-mock"`)
		require.Contains(t, string(reqBody), `"response_format":{"type":"json_schema"`)
		require.Contains(t, string(reqBody), `"name":"booking_decision"`)
		require.Contains(t, string(reqBody), `"required":["action","extracted_data","reply"]`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion(`{"action":"GENERAL_QUERY"}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Decide(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, `{"action":"GENERAL_QUERY"}`, resp)
}

func TestClient_Decide_SchemaIsValidJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, json.Unmarshal(bookingDecisionResponseFormat().JSONSchema.Schema, &v))
	props := v["properties"].(map[string]any)
	enum := props["action"].(map[string]any)["enum"].([]any)
	require.Len(t, enum, len(domain.Actions))
	for i, a := range domain.Actions {
		require.Equal(t, string(a), enum[i])
	}
}

func TestClient_Complete_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(reqBody), "response_format")
		require.Contains(t, string(reqBody), `"content":"summarise this"`)
		_, _ = w.Write([]byte(completion("summary")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), "summarise this")
	require.NoError(t, err)
	require.Equal(t, "summary", out)
}

func TestClient_Chat_Non200(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Decide(context.Background(), nil)
		srv.Close()

		require.Error(t, err)
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, status, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Decide(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Decide(context.Background(), nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Moderate
// ---------------------------------------------------------------------------

func TestClient_Moderate(t *testing.T) {
	for _, flagged := range []bool{false, true} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/moderations", r.URL.Path)
			if flagged {
				_, _ = w.Write([]byte(`{"results":[{"flagged":true}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"results":[{"flagged":false}]}`))
		}))

		got, err := newTestClient(t, srv).Moderate(context.Background(), "ship 2 tonnes of tea")
		srv.Close()
		require.NoError(t, err)
		require.Equal(t, flagged, got)
	}
}

func TestClient_Moderate_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no results")
}

func TestClient_Moderate_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode moderation response")
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"), WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}
