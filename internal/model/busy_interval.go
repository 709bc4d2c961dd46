package model

import "time"

type SourceKind string

const (
	SourceCalendar   SourceKind = "calendar"
	SourceAssignment SourceKind = "assignment"
	SourceTimeOff    SourceKind = "timeOff"
)

// BusyInterval is a half-open range [Start, End) during which a worker is
// already committed. ID identifies the upstream record within its source.
type BusyInterval struct {
	ID       string     `json:"id"`
	WorkerID int64      `json:"worker_id"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Source   SourceKind `json:"source"`
	Label    string     `json:"label"`
}

func (b BusyInterval) Valid() bool {
	return !b.Start.IsZero() && b.Start.Before(b.End)
}
