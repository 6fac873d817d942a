package live

import (
	"fmt"

	"jobcal/internal/cache"
	"jobcal/internal/model"
)

// Action is the single button a notification may carry. Href is the
// in-app location the button navigates to.
type Action struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notification is what the toast collaborator shows the user.
type Notification struct {
	Event       model.EventType `json:"event"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	Description string          `json:"description,omitempty"`
	Action      *Action         `json:"action,omitempty"`
}

// Reaction describes how the client responds to one event type.
// A nil Invalidate or Notify means "nothing of that kind".
type Reaction struct {
	Invalidate func(p model.Payload) []cache.Key
	Notify     func(p model.Payload) Notification
	// Ack is false for liveness-only events.
	Ack bool
}

// Cache keys touched by live events.
func CompanyReportsKey(companyID int64) cache.Key {
	return cache.Join("companies", fmt.Sprint(companyID), "reports")
}

var InterviewResultsKey = cache.Join("interviews", "results")

// Reactions is the event type -> reaction table used by NewDispatcher.
var Reactions = map[model.EventType]Reaction{
	model.EventPing: {},

	model.EventCompanyAnalysisCompleted: {
		Invalidate: func(p model.Payload) []cache.Key {
			return []cache.Key{CompanyReportsKey(p.CompanyID)}
		},
		Notify: func(p model.Payload) Notification {
			return Notification{
				Event:       model.EventCompanyAnalysisCompleted,
				Severity:    SeveritySuccess,
				Message:     "Company analysis is ready",
				Description: "The analysis report has been generated.",
				Action: &Action{
					Label: "View report",
					Href:  fmt.Sprintf("/companies/%d/reports/%d", p.CompanyID, p.CompanyAnalysisID),
				},
			}
		},
		Ack: true,
	},

	model.EventCompanyAnalysisFailed: {
		Notify: func(p model.Payload) Notification {
			return Notification{
				Event:       model.EventCompanyAnalysisFailed,
				Severity:    SeverityError,
				Message:     "Company analysis failed",
				Description: "Something went wrong while analysing the company. Please try again.",
				Action: &Action{
					Label: "Retry",
					Href:  fmt.Sprintf("/companies/%d/analysis", p.CompanyID),
				},
			}
		},
		Ack: true,
	},

	model.EventInterviewFeedbackCompleted: {
		Invalidate: func(model.Payload) []cache.Key {
			return []cache.Key{InterviewResultsKey}
		},
		Notify: func(model.Payload) Notification {
			return Notification{
				Event:       model.EventInterviewFeedbackCompleted,
				Severity:    SeveritySuccess,
				Message:     "Interview feedback is ready",
				Description: "Your mock interview has been reviewed.",
				Action:      &Action{Label: "View results", Href: "/interviews/results"},
			}
		},
		Ack: true,
	},

	model.EventInterviewFeedbackFailed: {
		Invalidate: func(model.Payload) []cache.Key {
			return []cache.Key{InterviewResultsKey}
		},
		Notify: func(model.Payload) Notification {
			return Notification{
				Event:       model.EventInterviewFeedbackFailed,
				Severity:    SeverityError,
				Message:     "Interview feedback failed",
				Description: "We could not generate feedback for your interview.",
				Action:      &Action{Label: "Retry", Href: "/interviews"},
			}
		},
		Ack: true,
	},
}
