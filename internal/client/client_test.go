package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuesync/queuesync/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_LoginStoresToken(t *testing.T) {
	srv, _ := newRouteServer(t, map[string]http.HandlerFunc{
		"/api/auth/login": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"token": "abc",
				"user":  map[string]any{"id": 1, "username": body["username"], "role": "admin"},
			})
		},
		"/api/auth/me": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer abc" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": 1, "username": "admin", "role": "admin"})
		},
	})
	c := New(NewResolver(ResolverOptions{BaseURL: srv.URL}))

	_, err := c.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "Invalid credentials", reqErr.Message)

	res, err := c.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Token)
	assert.Equal(t, "abc", c.Resolver().Token())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.True(t, me.IsAdmin())
}

func TestClient_RequestErrorMessageFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"nope"}`, "nope"},
		{"detail field", `{"detail":"bad detail"}`, "bad detail"},
		{"message field", `{"message":"msg"}`, "msg"},
		{"not json", `<html>`, "Conflict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newRouteServer(t, map[string]http.HandlerFunc{
				"/api/admin/jobs/1/pause": func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusConflict)
					w.Write([]byte(tt.body))
				},
			})
			c := New(NewResolver(ResolverOptions{BaseURL: srv.URL}))
			_, err := c.JobAction(context.Background(), models.ActionPause, 1)
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, http.StatusConflict, reqErr.Status)
			assert.Equal(t, tt.want, reqErr.Message)
			assert.False(t, errors.Is(err, ErrUnauthorized))
		})
	}
}

func TestClient_ListAdminJobs(t *testing.T) {
	t.Run("paged shape with filters", func(t *testing.T) {
		srv, _ := newRouteServer(t, map[string]http.HandlerFunc{
			"/api/admin/jobs": func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, "failed", q.Get("status"))
				assert.Equal(t, "render", q.Get("type"))
				assert.Equal(t, "10", q.Get("limit"))
				writeJSON(w, http.StatusOK, map[string]any{
					"items":       []map[string]any{{"id": 3, "type": "render", "status": "failed"}},
					"next_cursor": 3,
				})
			},
		})
		c := New(NewResolver(ResolverOptions{BaseURL: srv.URL}))
		page, err := c.ListAdminJobs(context.Background(), AdminFilter{
			Status: models.StatusFailed, Type: models.JobTypeRender, Limit: 10,
		})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		require.NotNil(t, page.NextCursor)
		assert.Equal(t, int64(3), *page.NextCursor)
	})

	t.Run("bare array on fallback route", func(t *testing.T) {
		srv, rec := newRouteServer(t, map[string]http.HandlerFunc{
			"/jobs": func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, []map[string]any{
					{"id": 1, "type": "analysis", "status": "queued"},
					{"id": 2, "type": "edit", "status": "running"},
				})
			},
		})
		c := New(NewResolver(ResolverOptions{BaseURL: srv.URL}))
		page, err := c.ListAdminJobs(context.Background(), AdminFilter{})
		require.NoError(t, err)
		assert.Len(t, page.Items, 2)
		assert.Nil(t, page.NextCursor)
		assert.Equal(t, []string{"/api/admin/jobs", "/jobs"}, rec.paths())
	})
}

func TestClient_ClaimJobNoContent(t *testing.T) {
	srv, _ := newRouteServer(t, map[string]http.HandlerFunc{
		"/api/worker/jobs/claim": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	c := New(NewResolver(ResolverOptions{BaseURL: srv.URL, Token: "worker"}))
	job, err := c.ClaimJob(context.Background(), models.JobTypeEdit)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClient_CheckVersion(t *testing.T) {
	srv, _ := newRouteServer(t, map[string]http.HandlerFunc{
		"/api/version": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": "1.4.2"})
		},
	})
	c := New(NewResolver(ResolverOptions{BaseURL: srv.URL}))

	v, err := c.CheckVersion(context.Background(), ">= 1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", v)

	_, err = c.CheckVersion(context.Background(), ">= 2.0.0")
	assert.Error(t, err)

	_, err = c.CheckVersion(context.Background(), "")
	assert.NoError(t, err)
}

func TestClient_LogoutDropsToken(t *testing.T) {
	srv, _ := newRouteServer(t, nil)
	c := New(NewResolver(ResolverOptions{BaseURL: srv.URL, Token: "abc"}))
	err := c.Logout(context.Background())
	assert.Error(t, err)
	assert.Empty(t, c.Resolver().Token())
}
