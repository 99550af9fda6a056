package sinks

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/clinic-crawler/internal/progress"
)

// Run states reported by StatusSink.
const (
	RunIdle    = "idle"
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "error"
)

// Status is a point-in-time view of the current crawl.
type Status struct {
	RunID      string           `json:"run_id,omitempty"`
	State      string           `json:"state"`
	StartedAt  time.Time        `json:"started_at,omitzero"`
	FinishedAt time.Time        `json:"finished_at,omitzero"`
	Fetches    map[string]int64 `json:"fetches"`
	Regions    map[string]int   `json:"regions"`
	Clinics    map[string]int   `json:"clinics"`
	Pending    int              `json:"pending"`
	InFlight   int              `json:"in_flight"`
	Records    int              `json:"records"`
	LastURL    string           `json:"last_url,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// StatusSink tallies events in memory so the status endpoint can report on a
// crawl while it runs.
type StatusSink struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusSink returns an idle StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: emptyStatus()}
}

func emptyStatus() Status {
	return Status{
		State:   RunIdle,
		Fetches: map[string]int64{},
		Regions: map[string]int{},
		Clinics: map[string]int{},
	}
}

// Consume folds batch into the tally. A CRAWL_START for a new run resets it.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	st := &s.status
	switch evt.Stage {
	case progress.StageCrawlStart:
		*st = emptyStatus()
		st.RunID = evt.RunID.String()
		st.State = RunRunning
		st.StartedAt = evt.TS
	case progress.StageCrawlDone:
		st.State = RunDone
		st.FinishedAt = evt.TS
	case progress.StageCrawlError:
		st.State = RunFailed
		st.FinishedAt = evt.TS
		st.Note = evt.Note
	case progress.StageNodeQueued:
		st.Pending++
	case progress.StageFetchStart:
		if evt.Tier != progress.TierRoot && st.Pending > 0 {
			st.Pending--
		}
		st.InFlight++
	case progress.StageFetchDone:
		if st.InFlight > 0 {
			st.InFlight--
		}
		st.Fetches[string(evt.StatusClass)]++
		st.LastURL = evt.URL
	case progress.StageRegionDone:
		st.Regions[evt.State]++
	case progress.StageClinicDone:
		st.Clinics[evt.State]++
		st.Records += evt.Records
	}
}

// Snapshot returns a copy of the current tally.
func (s *StatusSink) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.Fetches = maps.Clone(s.status.Fetches)
	out.Regions = maps.Clone(s.status.Regions)
	out.Clinics = maps.Clone(s.status.Clinics)
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
