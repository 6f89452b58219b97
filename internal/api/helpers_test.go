package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/queuesync/queuesync/internal/api"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/testutil"
)

func serve(t *testing.T, h http.Handler, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func serveWorker(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(http.MethodPost, path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testutil.WorkerToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJob(t *testing.T, rr *httptest.ResponseRecorder) models.Job {
	t.Helper()
	var j models.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &j), rr.Body.String())
	return j
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body["error"]
}

// createProject makes a project owned by the cookie's user.
func createProject(t *testing.T, s *api.Server, cookie *http.Cookie, name string) models.Project {
	t.Helper()
	rr := serve(t, s.Router(), http.MethodPost, "/api/projects", `{"name":"`+name+`"}`, cookie)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p models.Project
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func submitJob(t *testing.T, s *api.Server, cookie *http.Cookie, projectID int64, jobType models.JobType) models.Job {
	t.Helper()
	path := "/api/projects/" + itoa(projectID) + "/jobs"
	rr := serve(t, s.Router(), http.MethodPost, path, `{"type":"`+string(jobType)+`"}`, cookie)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeJob(t, rr)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func serveRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
