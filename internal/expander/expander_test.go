package expander

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharpep/knowledge-base/pkg/types"
)

func completionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		var req struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, "user", req.Messages[1].Role)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestExpand(t *testing.T) {
	srv := completionServer(t, "\n\"refund policy return window days\"\nextra", http.StatusOK)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "k"})
	got, err := c.Expand(context.Background(), "how long for refunds")
	require.NoError(t, err)
	assert.Equal(t, "refund policy return window days", got)
}

func TestExpandFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  int
	}{
		{"http error", "", http.StatusBadGateway},
		{"blank completion", "  \n \n", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.content, tt.status)
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k"}).Expand(context.Background(), "q")
			assert.ErrorIs(t, err, types.ErrExpansionUnavailable)
		})
	}
}

func TestClean(t *testing.T) {
	long := make([]rune, maxExpandedRune+10)
	for i := range long {
		long[i] = 'a'
	}
	got, err := clean(string(long))
	require.NoError(t, err)
	assert.Len(t, []rune(got), maxExpandedRune)

	got, err = clean("`quoted`")
	require.NoError(t, err)
	assert.Equal(t, "quoted", got)
}
