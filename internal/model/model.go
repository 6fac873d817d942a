package model

import (
	"encoding/json"
	"time"
)

// ScheduleItem is a date-ranged entry on the job-seeking schedule board
// (an interview, a submission deadline, a coding test...).
//
// StartDate and EndDate are calendar dates; any time-of-day component is
// ignored by consumers. StartDate <= EndDate is validated by the store,
// not by the layout engine.
type ScheduleItem struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	// StatusLabel is opaque here; the UI maps it to a column/colour.
	StatusLabel string `json:"status_label"`

	// SourceUID is set for items imported from an ICS feed
	// ("<source id>/<instance key>"), empty for hand-made items.
	SourceUID string `json:"source_uid,omitempty"`
}

// WeekEvent is a ScheduleItem projected onto one displayed week.
type WeekEvent struct {
	ScheduleItemID int64 `json:"schedule_item_id"`
	// StartColumn / EndColumn are inclusive day indices in [0,6].
	StartColumn int `json:"start_column"`
	EndColumn   int `json:"end_column"`
	// Row is the vertical stacking slot, 0-based.
	Row int `json:"row"`
}

// Overlaps reports whether the column spans of e and o intersect.
func (e WeekEvent) Overlaps(o WeekEvent) bool {
	return !(e.EndColumn < o.StartColumn || e.StartColumn > o.EndColumn)
}

// EventType identifies a live server push.
type EventType string

const (
	EventPing                       EventType = "ping"
	EventCompanyAnalysisCompleted   EventType = "company-analysis-completed"
	EventCompanyAnalysisFailed      EventType = "company-analysis-failed"
	EventInterviewFeedbackCompleted EventType = "interview-feedback-completed"
	EventInterviewFeedbackFailed    EventType = "interview-feedback-failed"
)

// EventTypes lists every known live event type.
var EventTypes = []EventType{
	EventPing,
	EventCompanyAnalysisCompleted,
	EventCompanyAnalysisFailed,
	EventInterviewFeedbackCompleted,
	EventInterviewFeedbackFailed,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// LiveEvent is one server push. Data is the raw JSON payload exactly as it
// travelled on the wire.
type LiveEvent struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Payload is the union of fields carried by live events. Unused fields are
// zero.
type Payload struct {
	CompanyID         int64 `json:"companyId,omitempty"`
	CompanyAnalysisID int64 `json:"companyAnalysisId,omitempty"`
	InterviewID       int64 `json:"interviewId,omitempty"`
}

// Ack is the client-to-server confirmation of a handled live event.
type Ack struct {
	EventType EventType       `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// AckRecord is an Ack as stored by the server.
type AckRecord struct {
	ID         int64     `json:"id"`
	Session    string    `json:"session"`
	EventType  EventType `json:"event_type"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
