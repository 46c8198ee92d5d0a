package modeladapter_test

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

	"github.com/germanamz/netpilot/pkg/chats/chat"
	"github.com/germanamz/netpilot/pkg/chats/message"
	"github.com/germanamz/netpilot/pkg/chats/role"
	"github.com/germanamz/netpilot/pkg/modeladapter"
	"github.com/germanamz/netpilot/pkg/tools/toolbox"
)

var (
	_ modeladapter.Completer     = (*scriptedCompleter)(nil)
	_ modeladapter.Completer     = (*modeladapter.ModelAdapter)(nil)
	_ modeladapter.UsageReporter = (*modeladapter.ModelAdapter)(nil)
)

type scriptedCompleter struct {
	msg message.Message
	err error
}

func (s *scriptedCompleter) Complete(_ context.Context, _ *chat.Chat, _ []toolbox.Tool) (message.Message, error) {
	return s.msg, s.err
}

func TestCompleter(t *testing.T) {
	c := chat.New(message.NewText("operator", role.User, "show me vlan 10"))

	got, err := (&scriptedCompleter{msg: message.NewText("netpilot", role.Assistant, "vlan 10 is active")}).Complete(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, "vlan 10 is active", got.TextContent())

	_, err = (&scriptedCompleter{err: errors.New("api error")}).Complete(context.Background(), c, nil)
	assert.EqualError(t, err, "api error")
}

func TestModelAdapter_StubComplete(t *testing.T) {
	var a modeladapter.ModelAdapter

	_, err := a.Complete(context.Background(), chat.New(), nil)
	assert.EqualError(t, err, "adapter: Complete not implemented")
}

func TestNewRequest_Auth(t *testing.T) {
	tests := []struct {
		name   string
		auth   modeladapter.Auth
		header string
		want   string
	}{
		{"bearer default", modeladapter.Auth{Key: "sk-test"}, "Authorization", "Bearer sk-test"},
		{"custom header", modeladapter.Auth{Key: "sk-test", Header: "x-goog-api-key"}, "x-goog-api-key", "sk-test"},
		{"custom scheme", modeladapter.Auth{Key: "sk-test", Header: "x-api-key", Scheme: "Token"}, "x-api-key", "Token sk-test"},
		{"no auth", modeladapter.Auth{}, "Authorization", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := modeladapter.New("https://llm.example.com", tt.auth, nil)

			req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
			require.NoError(t, err)
			assert.Equal(t, "https://llm.example.com/v1/chat", req.URL.String())
			assert.Equal(t, tt.want, req.Header.Get(tt.header))
		})
	}
}

func TestNewRequest_ExtraHeaders(t *testing.T) {
	a := modeladapter.New("https://llm.example.com", modeladapter.Auth{}, nil)
	a.Headers = map[string]string{"x-custom": "value"}

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "value", req.Header.Get("x-custom"))
}

func TestPostJSON_Success(t *testing.T) {
	type reqBody struct {
		Model string `json:"model"`
	}
	type respBody struct {
		ID string `json:"id"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "ctx-1", r.Header.Get("X-MCP-Context-ID"))

		var got reqBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "gpt-4o", got.Model)

		_ = json.NewEncoder(w).Encode(respBody{ID: "chatcmpl-123"})
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{Key: "sk-test"}, srv.Client())

	var dest respBody
	err := a.PostJSONWithHeaders(context.Background(), "/v1/chat", map[string]string{"X-MCP-Context-ID": "ctx-1"}, reqBody{Model: "gpt-4o"}, &dest)
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-123", dest.ID)
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{}, nil)

	var se *modeladapter.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, 7*time.Second, se.RetryAfter)
	assert.True(t, se.Temporary())
	assert.Contains(t, se.Error(), "slow down")
}

func TestPostJSON_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{}, nil)
	assert.ErrorContains(t, err, "unexpected status 401")

	var se *modeladapter.StatusError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Temporary())
}

func TestPostJSON_MarshalError(t *testing.T) {
	a := modeladapter.New("https://llm.example.com", modeladapter.Auth{}, nil)

	err := a.PostJSON(context.Background(), "/v1/chat", make(chan int), nil)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, modeladapter.ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("Mon, 02 Jan 2006 15:04:05 GMT"))
}
