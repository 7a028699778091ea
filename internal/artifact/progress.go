package artifact

import (
	"errors"
	"io/fs"
	"time"
)

type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseICS    Phase = "ics"
	PhaseRender Phase = "render"
	PhaseMerge  Phase = "merge"
)

// Progress is the mutable counter document for one extraction run. The
// orchestrator is its only writer; readers get a copy from disk.
type Progress struct {
	RunID        string     `json:"run_id"`
	Total        int        `json:"total"`
	Queued       int        `json:"queued"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	FilesWritten int        `json:"files_written"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Finished     bool       `json:"finished"`
	CurrentPhase Phase      `json:"current_phase"`
	Last         string     `json:"last,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// WriteProgress persists the progress document after every per-source
// completion, so the admin UI survives an interrupted run.
func (d *Dir) WriteProgress(p Progress) error {
	return d.WriteJSON(ProgressFile, p)
}

// ReadProgress loads the latest progress document. An absent file yields an
// idle zero document.
func (d *Dir) ReadProgress() (Progress, error) {
	var p Progress
	err := d.ReadJSON(ProgressFile, &p)
	if errors.Is(err, fs.ErrNotExist) {
		return Progress{CurrentPhase: PhaseIdle}, nil
	}
	if err != nil {
		return Progress{}, err
	}
	return p, nil
}
