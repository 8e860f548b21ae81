package publish

import (
	"errors"
	"fmt"

	"github.com/aktagon/news-publisher/internal/session"
)

var (
	// ErrConfirmationTimeout means an action was issued but the page never
	// showed the expected URL.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	// ErrAttachmentFailure means one image could not be attached.
	ErrAttachmentFailure = errors.New("attachment failed")
)

// State is how far one publish attempt got.
type State int

const (
	NotAuthenticated State = iota
	SessionRestored
	LoggedIn
	Composing
	Saved
	AdvancingToPublish
	Published
	Failed
)

func (s State) String() string {
	switch s {
	case NotAuthenticated:
		return "not_authenticated"
	case SessionRestored:
		return "session_restored"
	case LoggedIn:
		return "logged_in"
	case Composing:
		return "composing"
	case Saved:
		return "saved"
	case AdvancingToPublish:
		return "advancing_to_publish"
	case Published:
		return "published"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the outcome of a run.
type Status int

const (
	// Success means the published-post URL was observed.
	Success Status = iota
	// Ambiguous means the final publish action was issued but never
	// confirmed. The archived copy is authoritative; verify by hand.
	Ambiguous
	// Failure means the post was not published.
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Ambiguous:
		return "ambiguous"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result reports one run. Err is set for Ambiguous and Failure; Warnings
// collects the step failures that were tolerated.
type Result struct {
	Status Status
	// State is the last state reached; Failed when the run aborted.
	State State
	// LastStep is the step that was in progress when the run ended.
	LastStep    State
	Auth        session.AuthState
	URL         string
	ArchivePath string
	Err         error
	Warnings    []error
}

// OK reports whether the caller can treat the run as done.
func (r Result) OK() bool { return r.Status != Failure }

func (r Result) String() string {
	s := fmt.Sprintf("%s (state %s", r.Status, r.State)
	if r.State == Failed {
		s += " during " + r.LastStep.String()
	}
	s += ")"
	if r.URL != "" {
		s += " " + r.URL
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}
