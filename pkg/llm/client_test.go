package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lynus-agent/pkg/config"
)

func testConfig(url string) config.LLM {
	return config.LLM{
		BaseURL:   url,
		Model:     "test-model",
		Timeout:   2 * time.Second,
		MaxTokens: 2000,
		Referer:   "https://lynus.ai",
		Title:     "Lynus AI Agent",
	}
}

func TestCompleteSendsRequestAndExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-1", r.Header.Get("Authorization"))
		assert.Equal(t, "https://lynus.ai", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Lynus AI Agent", r.Header.Get("X-Title"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 2000, req.MaxTokens)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL + "/"))
	out, err := c.Complete(context.Background(), "sk-1", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestCompleteNon2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Complete(context.Background(), "k", nil, 0.7)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Contains(t, te.Body, "rate limited")
	assert.Contains(t, err.Error(), "429")
	assert.False(t, te.Timeout())
}

func TestCompleteMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `<html>`,
		"no choices": `{"choices":[]}`,
		"no content": `{"choices":[{"message":{}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewClient(testConfig(srv.URL)).Complete(context.Background(), "k", nil, 0.7)
			var me *MalformedResponseError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, body, me.Body)
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := NewClient(cfg).Complete(context.Background(), "k", nil, 0.7)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.Less(t, time.Since(start), time.Second)
}

func TestCompleteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(testConfig(url)).Complete(context.Background(), "k", nil, 0.7)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestMockCompleter(t *testing.T) {
	m := new(MockCompleter)
	m.On("Complete", context.Background(), "k", []Message(nil), 0.5).Return("", errors.New("boom"))
	_, err := m.Complete(context.Background(), "k", nil, 0.5)
	assert.EqualError(t, err, "boom")
	m.AssertExpectations(t)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := "錯誤訊息" // 3 bytes per rune
	assert.Equal(t, "錯...", truncate(s, 4))
	assert.Equal(t, "錯誤...", truncate(s, 6))
	assert.Equal(t, s, truncate(s, 12))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
