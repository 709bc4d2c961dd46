package model

import "time"

type CandidateSlot struct {
	WorkerID            int64     `json:"worker_id"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	DurationMinutes     int       `json:"duration_minutes"`
	BufferBeforeMinutes int       `json:"buffer_before_minutes"`
	BufferAfterMinutes  int       `json:"buffer_after_minutes"`
	OnCleanGrid         bool      `json:"on_clean_grid"`
}

// Window is a half-open search range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) Empty() bool {
	return !w.From.Before(w.To)
}
