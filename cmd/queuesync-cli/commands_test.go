package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuesync/queuesync/internal/auth"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/testutil"
)

type cliHarness struct {
	t         *testing.T
	serverURL string
	configDir string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)

	server, _, _ := testutil.SetupTestServer(t)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	_, err = server.Store().CreateUser("ops", hash, models.RoleAdmin)
	require.NoError(t, err)

	return &cliHarness{t: t, serverURL: ts.URL, configDir: t.TempDir()}
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", h.configDir, "--server", h.serverURL}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func TestCLIWorkflow(t *testing.T) {
	h := newCLIHarness(t)

	out := h.mustRun("login", "-u", "ops", "-p", "secret")
	assert.Contains(t, out, "Logged in as ops (admin)")
	token, err := loadToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	out = h.mustRun("project", "create", "demo")
	assert.Contains(t, out, "Created project 1 (demo)")

	out = h.mustRun("jobs", "submit", "--project", "1", "--type", "render")
	assert.Contains(t, out, "Submitted job 1 (render, queued)")

	out = h.mustRun("jobs", "list", "--project", "1")
	assert.Contains(t, out, "render")
	assert.Contains(t, out, "queued")

	out = h.mustRun("work", "--once", "--steps", "2", "--step-interval", "0",
		"--worker-token", testutil.WorkerToken, "--fail", "disk full")
	assert.Contains(t, out, "Claimed job 1 (render)")
	assert.Contains(t, out, "Failed job 1: disk full")

	out = h.mustRun("jobs", "admin", "--status", "failed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "disk full")

	out = h.mustRun("retry", "1")
	assert.Contains(t, out, "queued")
	assert.NotContains(t, out, "disk full")

	_, err = h.run("pause", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pause job 1")

	out = h.mustRun("cancel", "1")
	assert.Contains(t, out, "canceled")

	out = h.mustRun("watch", "--project", "1", "--once")
	assert.Contains(t, out, "project:1  realtime: sse")
	assert.Contains(t, out, "canceled")

	out = h.mustRun("watch", "--admin", "--once")
	assert.Contains(t, out, "admin  realtime: sse")

	out = h.mustRun("logout")
	assert.Contains(t, out, "Logged out")
	_, err = loadToken()
	assert.Error(t, err)
}

func TestWorkCompletesJob(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("login", "-u", "ops", "-p", "secret")
	h.mustRun("project", "create", "demo")
	h.mustRun("jobs", "submit", "--project", "1", "--type", "analysis")

	out := h.mustRun("work", "--once", "--steps", "3", "--step-interval", "0", "--worker-token", testutil.WorkerToken)
	assert.Contains(t, out, "Completed job 1")

	out = h.mustRun("work", "--once", "--worker-token", testutil.WorkerToken)
	assert.Contains(t, out, "No queued jobs")

	out = h.mustRun("jobs", "list", "--project", "1")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "100%")
}

func TestCLIValidation(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("watch")
	assert.ErrorContains(t, err, "exactly one of --project or --admin")

	_, err = h.run("jobs", "list")
	assert.ErrorContains(t, err, "--project is required")

	_, err = h.run("cancel", "abc")
	assert.ErrorContains(t, err, `invalid job id "abc"`)

	_, err = h.run("login")
	assert.ErrorContains(t, err, "--username is required")

	_, err = h.run("work", "--once", "--worker-token", "wrong")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	h := newCLIHarness(t)

	out := h.mustRun("version", "--offline")
	assert.Equal(t, "client "+version+"\n", out)

	out = h.mustRun("version", "--require", ">= 1.0.0")
	assert.Contains(t, out, "server 1.4.0")

	out, err := h.run("version", "--require", ">= 2.0.0")
	require.Error(t, err)
	assert.Contains(t, out, "server 1.4.0")
	assert.Contains(t, err.Error(), "does not satisfy")
}

func TestUserCommands(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("login", "-u", "ops", "-p", "secret")

	out := h.mustRun("user", "create", "dev", "-p", "pw")
	assert.Contains(t, out, "Created user 2 (dev, user)")

	out = h.mustRun("user", "list")
	assert.Contains(t, out, "dev")
	assert.Contains(t, out, "ops")

	out = h.mustRun("user", "delete", "2")
	assert.Contains(t, out, "Deleted user 2")

	_, err := h.run("user", "delete", "x")
	assert.ErrorContains(t, err, `invalid user id "x"`)
}
