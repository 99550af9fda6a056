package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageCrawlError Stage = "CRAWL_ERROR"
	StageNodeQueued Stage = "NODE_QUEUED"
	StageFetchStart Stage = "FETCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageRegionDone Stage = "REGION_DONE"
	StageClinicDone Stage = "CLINIC_DONE"
)

// Tier is the depth of a page in the root → region → clinic hierarchy.
type Tier string

// Hierarchy tiers.
const (
	TierRoot   Tier = "root"
	TierRegion Tier = "region"
	TierClinic Tier = "clinic"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one crawl milestone.
type Event struct {
	// RunID identifies the crawl that emitted the event.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Tier  Tier
	// URL is the page the event refers to, if any.
	URL string
	// Label is the region or clinic name.
	Label string
	// State is the node state: pending for NODE_QUEUED, fetching for
	// FETCH_START, and the outcome for REGION_DONE and CLINIC_DONE.
	State       string
	StatusClass StatusClass
	Attempts    int
	Bytes       int64
	// Records counts rows emitted by a region or by the whole crawl.
	Records int
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StageNodeQueued, StageFetchStart:
		if e.Tier == "" {
			return fmt.Errorf("%s requires tier", e.Stage)
		}
	case StageFetchDone:
		if e.Tier == "" {
			return errors.New("fetch done requires tier")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageRegionDone, StageClinicDone:
		if e.State == "" {
			return fmt.Errorf("%s requires state", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events. Zero means no
// response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
