package models

// Action is a command that moves a job between statuses.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionRetry  Action = "retry"
	ActionCancel Action = "cancel"

	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionFail     Action = "fail"
)

// AdminActions are the commands exposed to the admin control plane.
var AdminActions = []Action{ActionPause, ActionResume, ActionRetry, ActionCancel}

// IsAdmin reports whether a is an admin control-plane action.
func (a Action) IsAdmin() bool {
	switch a {
	case ActionPause, ActionResume, ActionRetry, ActionCancel:
		return true
	}
	return false
}
