package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHTTPClient(config.MailConfig{
		BaseURL:           server.URL,
		APIToken:          "secret",
		MaxAttempts:       3,
		RequestsPerSecond: 1000,
	}, boxes, zap.NewNop())
	client.retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	return client
}

func TestFetchNewMessagesRetriesTransient(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/accounts/acct/folders/inbox/messages", r.URL.Path)
		assert.Equal(t, "c-9", r.URL.Query().Get("since"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch n {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_ = json.NewEncoder(w).Encode(listResponse{Messages: []RawMessage{
				{ID: "m-1", From: "cust@x.com", To: []string{"sales@shop.com"}, Subject: "Hi", Cursor: "c-10"},
			}})
		}
	})

	msgs, err := client.FetchNewMessages(context.Background(), "acct", domain.FolderInbox, "c-9")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Len(t, msgs, 1)
	assert.Equal(t, "c-10", msgs[0].Cursor)
	assert.Equal(t, domain.DirectionInbound, msgs[0].Direction)
}

func TestFetchNewMessagesGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchNewMessages(context.Background(), "acct", domain.FolderInbox, "")
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad cursor", http.StatusBadRequest)
	})

	_, err := client.FetchNewMessages(context.Background(), "acct", domain.FolderSent, "x")
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "400")
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/sales/messages", r.URL.Path)
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cust@x.com", req.To)
		assert.Equal(t, "root@mail", req.InReplyTo)
		_ = json.NewEncoder(w).Encode(sendResponse{ID: "<sent-1@mail>"})
	})

	id, err := client.SendMessage(context.Background(), domain.Envelope{
		FromAccount: "sales",
		To:          "cust@x.com",
		Subject:     "Re: Hi",
		Text:        "thanks",
		InReplyTo:   "root@mail",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1@mail", id)
}

func TestFetchMessageBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/messages/m-1/body", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Body{Text: "plain", HTML: "<p>plain</p>"})
	})

	body, err := client.FetchMessageBody(context.Background(), "acct", "m-1")
	require.NoError(t, err)
	assert.Equal(t, "plain", body.Text)
}
