package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event records.
type Stage string

// Supported stages.
const (
	StageScanStart    Stage = "SCAN_START"
	StageScanProgress Stage = "SCAN_PROGRESS"
	StageScanDone     Stage = "SCAN_DONE"
	StageResourceRead Stage = "RESOURCE_READ"
)

// Event is one scan milestone. Scan ids restart with the process, so RunID
// tells runs apart.
type Event struct {
	RunID  uuid.UUID
	ScanID int
	TS     time.Time
	Stage  Stage
	// Site and URL are set for resource reads.
	Site        string
	URL         string
	StatusClass string
	// Progress is the 0-100 percentage for progress events.
	Progress int
	// Dur is the scan runtime on SCAN_DONE.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.ScanID < 0 {
		return errors.New("scan id must be >= 0")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScanStart, StageScanDone:
	case StageScanProgress:
		if e.Progress < 0 || e.Progress > 100 {
			return fmt.Errorf("progress %d out of range", e.Progress)
		}
	case StageResourceRead:
		if e.Site == "" {
			return errors.New("resource read requires site")
		}
		if e.StatusClass == "" {
			return errors.New("resource read requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
