package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, r http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Options{
		BaseURL:      srv.URL,
		Tokens:       StaticToken("secret"),
		Timeout:      2 * time.Second,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	_, err := NewHTTPClient(Options{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestListChannels_ArrayAndPaginated(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/chat-group/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		if req.URL.Query().Get("group_name") == "mov" {
			writeJSON(w, http.StatusOK, map[string]any{
				"results": []map[string]any{{"group_name": "movies", "groupchat_name": "Movies"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"group_name": "general", "groupchat_name": "General"},
			{"group_name": "dm-1", "is_private": true, "members": []map[string]any{{"user": "ann@example.com"}}},
		})
	})
	c := newTestClient(t, r)

	all, err := c.ListChannels(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "general", all[0].Name)
	assert.True(t, all[1].Private)

	filtered, err := c.ListChannels(context.Background(), "mov")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Movies", filtered[0].DisplayName)
}

func TestListChannels_InvalidRecord(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/chat-group/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"groupchat_name": "no name"}})
	})
	c := newTestClient(t, r)

	_, err := c.ListChannels(context.Background(), "")
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestListMessages_Query(t *testing.T) {
	after := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	r := chi.NewRouter()
	r.Get("/api/v1/chat-group/{name}/messages/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "general", chi.URLParam(req, "name"))
		q := req.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "popcorn", q.Get("body"))
		assert.Equal(t, "2024-03-01T10:00:00Z", q.Get("created_after"))

		next := "http://backend/messages/?page=3"
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]any{
				{"id": 2, "author": "bob", "body": "popcorn?", "created": "2024-03-01T10:02:00Z"},
				{"id": 1, "author": "ann", "body": "popcorn!", "created": "2024-03-01T10:01:00Z"},
			},
			"next": next,
		})
	})
	c := newTestClient(t, r)

	page, err := c.ListMessages(context.Background(), "general", ListMessagesOptions{
		Page: 2, Body: "popcorn", CreatedAfter: after,
	})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.True(t, page.HasMore())
	assert.Equal(t, "bob", page.Results[0].Author)
}

func TestListMessages_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "results not array", body: `{"results": "nope"}`},
		{name: "missing results", body: `{"next": null}`},
		{name: "not json", body: `<html>`},
		{name: "record without author", body: `{"results": [{"body": "x", "created": "2024-03-01T10:00:00Z"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/api/v1/chat-group/{name}/messages/", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			c := newTestClient(t, r)

			_, err := c.ListMessages(context.Background(), "general", ListMessagesOptions{})
			require.ErrorIs(t, err, ErrMalformedPayload)
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	r := chi.NewRouter()
	r.Get("/api/v1/chat-group/{name}/", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"group_name": "general"})
	})
	c := newTestClient(t, r)

	ch, err := c.GetChannel(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, "general", ch.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_GivesUpAsRetryable(t *testing.T) {
	var calls atomic.Int32

	r := chi.NewRouter()
	r.Get("/api/v1/chat-group/{name}/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, r)

	_, err := c.GetChannel(context.Background(), "general")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_RetriesDisabled(t *testing.T) {
	var calls atomic.Int32

	r := chi.NewRouter()
	r.Get("/api/v1/chat-group/{name}/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Options{BaseURL: srv.URL, Retries: -1, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = c.GetChannel(context.Background(), "general")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())

	c, err = NewHTTPClient(Options{BaseURL: srv.URL, Retries: 4, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	calls.Store(0)
	_, err = c.GetChannel(context.Background(), "general")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      error
		retryable bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: ErrUnauthorized},
		{name: "not found", status: http.StatusNotFound, want: ErrNotFound},
		{name: "throttled", status: http.StatusTooManyRequests, want: ErrUnavailable, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Put("/api/v1/membership/{name}/", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			c := newTestClient(t, r)

			err := c.UpdateNickname(context.Background(), "general", "ann@example.com", "annie")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/ably/auth/", func(w http.ResponseWriter, req *http.Request) {
		<-req.Context().Done()
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = c.TransportAuth(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestWritesSendBodies(t *testing.T) {
	var (
		nickname  map[string]string
		attending map[string]bool
		created   models.NewChannel
		marked    atomic.Int32
	)

	r := chi.NewRouter()
	r.Put("/api/v1/membership/{name}/", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewDecoder(req.Body).Decode(&nickname)
		w.WriteHeader(http.StatusOK)
	})
	r.Patch("/api/v1/movie-night-invitations/{id}/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "9", chi.URLParam(req, "id"))
		_ = json.NewDecoder(req.Body).Decode(&attending)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/v1/chat-group/", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewDecoder(req.Body).Decode(&created)
		writeJSON(w, http.StatusCreated, map[string]any{"group_name": "g-1", "groupchat_name": created.DisplayName})
	})
	r.Patch("/api/v1/notifications/{id}/mark-read/", func(w http.ResponseWriter, _ *http.Request) {
		marked.Add(1)
	})
	r.Patch("/api/v1/notifications/mark-all-seen/", func(w http.ResponseWriter, _ *http.Request) {
		marked.Add(1)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	require.NoError(t, c.UpdateNickname(ctx, "general", "ann@example.com", "annie"))
	assert.Equal(t, map[string]string{"member_email": "ann@example.com", "nickname": "annie"}, nickname)

	require.NoError(t, c.RespondInvitation(ctx, 9, true))
	assert.Equal(t, map[string]bool{"is_attending": true}, attending)

	ch, err := c.CreateChannel(ctx, models.NewChannel{MemberEmails: []string{"bob@example.com"}, DisplayName: "Movies"})
	require.NoError(t, err)
	assert.Equal(t, "g-1", ch.Name)
	assert.Equal(t, []string{"bob@example.com"}, created.MemberEmails)

	require.NoError(t, c.MarkNotificationRead(ctx, 4))
	require.NoError(t, c.MarkAllNotificationsSeen(ctx))
	assert.Equal(t, int32(2), marked.Load())
}

func TestTransportAuthAndNotifications(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/ably/auth/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"token_request": map[string]any{"token": "tok", "clientId": "ann@example.com"},
		})
	})
	r.Get("/api/v1/notifications/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "-timestamp", req.URL.Query().Get("ordering"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "message": "Ann invited you", "timestamp": "2024-03-01T10:00:00Z"},
		})
	})
	c := newTestClient(t, r)

	auth, err := c.TransportAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TransportAuth{Token: "tok", ClientID: "ann@example.com"}, auth)

	notes, err := c.ListNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, int64(1), notes[0].ID)
	assert.False(t, notes[0].Read)
}
