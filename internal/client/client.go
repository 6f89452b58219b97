// Package client talks to the job authority over HTTP. Every call goes
// through a Resolver so that no call site hard-codes a route prefix.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Masterminds/semver/v3"

	"github.com/queuesync/queuesync/internal/models"
)

// Client is a typed API client for the job authority.
type Client struct {
	resolver *Resolver
}

// New wraps a Resolver.
func New(r *Resolver) *Client {
	return &Client{resolver: r}
}

// Resolver exposes the underlying resolver, e.g. for opening event streams.
func (c *Client) Resolver() *Resolver { return c.resolver }

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login exchanges credentials for a session token and keeps the token for
// subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	var out LoginResult
	if err := c.call(ctx, OpLogin, nil, Request{Method: http.MethodPost, Body: body}, &out); err != nil {
		return nil, err
	}
	if out.Token != "" {
		c.resolver.SetToken(out.Token)
	}
	return &out, nil
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.call(ctx, OpMe, nil, Request{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout ends the session. The local token is dropped even if the call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, OpLogout, nil, Request{Method: http.MethodPost}, nil)
	c.resolver.SetToken("")
	return err
}

// CreateProject registers a project owned by the current user.
func (c *Client) CreateProject(ctx context.Context, name string) (*models.Project, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	var p models.Project
	if err := c.call(ctx, OpCreateProject, nil, Request{Method: http.MethodPost, Body: body}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjectJobs returns the jobs of one project, newest first.
func (c *Client) ListProjectJobs(ctx context.Context, projectID int64) ([]models.Job, error) {
	var jobs []models.Job
	err := c.call(ctx, OpProjectJobs, projectParams(projectID), Request{}, &jobs)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// SubmitJob enqueues a new job for a project.
func (c *Client) SubmitJob(ctx context.Context, projectID int64, jobType models.JobType) (*models.Job, error) {
	body, _ := json.Marshal(map[string]string{"type": string(jobType)})
	var j models.Job
	if err := c.call(ctx, OpSubmitJob, projectParams(projectID), Request{Method: http.MethodPost, Body: body}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// AdminFilter narrows the admin job listing.
type AdminFilter struct {
	Status models.JobStatus
	Type   models.JobType
	Query  string
	Limit  int
	Cursor int64
}

func (f AdminFilter) values() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Cursor > 0 {
		q.Set("cursor", strconv.FormatInt(f.Cursor, 10))
	}
	return q
}

// JobPage is one page of the admin job listing.
type JobPage struct {
	Items      []models.Job `json:"items"`
	NextCursor *int64       `json:"next_cursor"`
}

// UnmarshalJSON also accepts a bare array, which older authorities return.
func (p *JobPage) UnmarshalJSON(data []byte) error {
	var items []models.Job
	if err := json.Unmarshal(data, &items); err == nil {
		p.Items = items
		p.NextCursor = nil
		return nil
	}
	type plain JobPage
	var aux plain
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = JobPage(aux)
	return nil
}

// ListAdminJobs returns one page of all jobs visible to an admin.
func (c *Client) ListAdminJobs(ctx context.Context, f AdminFilter) (*JobPage, error) {
	var page JobPage
	if err := c.call(ctx, OpAdminJobs, nil, Request{Query: f.values()}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// JobAction sends an admin command for a job and returns the authority's
// view of the job afterwards.
func (c *Client) JobAction(ctx context.Context, action models.Action, jobID int64) (*models.Job, error) {
	params := Params{"job_id": strconv.FormatInt(jobID, 10), "action": string(action)}
	var j models.Job
	if err := c.call(ctx, OpJobAction, params, Request{Method: http.MethodPost}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ProgressReport is what a worker sends while a job runs.
type ProgressReport struct {
	ProgressPercent *int    `json:"progress_percent,omitempty"`
	Step            *string `json:"step,omitempty"`
	StepIndex       *int    `json:"step_index,omitempty"`
	StepTotal       *int    `json:"step_total,omitempty"`
	ETASeconds      *int    `json:"eta_seconds,omitempty"`
	Note            *string `json:"note,omitempty"`
}

// ClaimJob takes the oldest queued job of the given type, or nil when there
// is nothing to do.
func (c *Client) ClaimJob(ctx context.Context, jobType models.JobType) (*models.Job, error) {
	q := url.Values{}
	if jobType != "" {
		q.Set("type", string(jobType))
	}
	resp, err := c.resolver.Do(ctx, OpWorkerClaim, nil, Request{Method: http.MethodPost, Query: q})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var j models.Job
	if err := decodeResponse(resp, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListUsers returns every account. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.call(ctx, OpAdminUsers, nil, Request{}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser adds an account with role "admin" or "user". Admin only.
func (c *Client) CreateUser(ctx context.Context, username, password, role string) (*models.User, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password, "role": role})
	var u models.User
	if err := c.call(ctx, OpAdminUsers, nil, Request{Method: http.MethodPost, Body: body}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser removes an account together with its projects and jobs.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	params := Params{"user_id": strconv.FormatInt(id, 10)}
	return c.call(ctx, OpAdminUser, params, Request{Method: http.MethodDelete}, nil)
}

// ReportProgress is the worker report that updates progress without
// changing status.
const ReportProgress models.Action = "progress"

// Report sends a worker report: progress, complete or fail.
func (c *Client) Report(ctx context.Context, jobID int64, action models.Action, report ProgressReport) (*models.Job, error) {
	body, _ := json.Marshal(report)
	params := Params{"job_id": strconv.FormatInt(jobID, 10), "action": string(action)}
	var j models.Job
	if err := c.call(ctx, OpWorkerReport, params, Request{Method: http.MethodPost, Body: body}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Version returns the authority's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, OpVersion, nil, Request{}, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// CheckVersion verifies the authority satisfies a semver constraint such
// as ">= 1.2.0". An empty constraint always passes.
func (c *Client) CheckVersion(ctx context.Context, constraint string) (string, error) {
	v, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	if constraint == "" {
		return v, nil
	}
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return v, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return v, fmt.Errorf("server version %q is not semver: %w", v, err)
	}
	if !cons.Check(sv) {
		return v, fmt.Errorf("server version %s does not satisfy %s", v, constraint)
	}
	return v, nil
}

func (c *Client) call(ctx context.Context, op Operation, params Params, req Request, out any) error {
	resp, err := c.resolver.Do(ctx, op, params, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// decodeResponse turns non-2xx responses into *RequestError and decodes
// JSON bodies into out when out is non-nil.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRequestError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func projectParams(id int64) Params {
	return Params{"project_id": strconv.FormatInt(id, 10)}
}
