package client

import (
	"net/url"
	"strings"
)

// Operation names one logical call against the job authority. Call sites
// only ever name an Operation; which paths are tried lives in Routes.
type Operation string

const (
	OpLogin         Operation = "login"
	OpMe            Operation = "me"
	OpLogout        Operation = "logout"
	OpCreateProject Operation = "create_project"
	OpProjectJobs   Operation = "project_jobs"
	OpSubmitJob     Operation = "submit_job"
	OpAdminJobs     Operation = "admin_jobs"
	OpJobAction     Operation = "job_action"
	OpProjectEvents Operation = "project_events"
	OpAdminEvents   Operation = "admin_events"
	OpProjectSocket Operation = "project_socket"
	OpAdminSocket   Operation = "admin_socket"
	OpWorkerClaim   Operation = "worker_claim"
	OpWorkerReport  Operation = "worker_report"
	OpVersion       Operation = "version"
	OpAdminUsers    Operation = "admin_users"
	OpAdminUser     Operation = "admin_user"
)

// Routes maps each Operation to its ordered candidate path templates.
// Templates may contain {project_id}, {job_id}, {user_id} and {action}.
type Routes map[Operation][]string

// DefaultRoutes lists the layouts the authority has been deployed with.
func DefaultRoutes() Routes {
	return Routes{
		OpLogin:         {"/api/auth/login", "/auth/login"},
		OpMe:            {"/api/auth/me", "/auth/me"},
		OpLogout:        {"/api/auth/logout", "/auth/logout"},
		OpCreateProject: {"/api/projects"},
		OpProjectJobs:   {"/api/projects/{project_id}/jobs", "/projects/{project_id}/jobs"},
		OpSubmitJob:     {"/api/projects/{project_id}/jobs"},
		OpAdminJobs:     {"/api/admin/jobs", "/jobs", "/api/jobs"},
		OpJobAction:     {"/api/admin/jobs/{job_id}/{action}", "/jobs/{job_id}/{action}", "/api/jobs/{job_id}/{action}"},
		OpProjectEvents: {"/api/projects/{project_id}/events", "/projects/{project_id}/events"},
		OpAdminEvents:   {"/api/admin/jobs/events", "/jobs/events", "/api/jobs/events"},
		OpProjectSocket: {"/ws/projects/{project_id}"},
		OpAdminSocket:   {"/ws/admin/jobs", "/ws/jobs"},
		OpWorkerClaim:   {"/api/worker/jobs/claim"},
		OpWorkerReport:  {"/api/worker/jobs/{job_id}/{action}"},
		OpVersion:       {"/api/version"},
		OpAdminUsers:    {"/api/admin/users"},
		OpAdminUser:     {"/api/admin/users/{user_id}"},
	}
}

// Merge returns a copy of r with the operations in overrides replaced.
// Empty override lists are ignored.
func (r Routes) Merge(overrides map[string][]string) Routes {
	out := make(Routes, len(r))
	for op, paths := range r {
		out[op] = append([]string(nil), paths...)
	}
	for op, paths := range overrides {
		if len(paths) == 0 {
			continue
		}
		out[Operation(op)] = append([]string(nil), paths...)
	}
	return out
}

// Params fills path template placeholders.
type Params map[string]string

// Expand substitutes params into a template, escaping each value.
func Expand(template string, params Params) string {
	if len(params) == 0 {
		return template
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
