// Package artifact owns the on-disk layout shared by the extraction pipeline
// and the read path: per-calendar event files, the merged schedule, the
// calendar map, the progress document and the fingerprint sentinel.
//
// All writes are write-to-temp-then-rename within the directory, so readers
// never observe a partial file.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	ScheduleFile    = "schedule_by_room.json"
	CalendarMapFile = "calendar_map.json"
	ProgressFile    = "import_progress.json"
	CompleteMarker  = "import_complete.txt"
	FingerprintFile = "schedule.fp"
	RebuildLockFile = ".schedule.lock"
)

// EventsFile returns the per-calendar artifact filename for a source hash.
func EventsFile(hash string) string {
	return "events_" + hash + ".json"
}

// Dir is a handle on the artifact directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) Path(name string) string { return filepath.Join(d.root, name) }

// WriteJSON atomically replaces name with the JSON encoding of v.
func (d *Dir) WriteJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return d.writeAtomic(name, append(b, '\n'))
}

// ReadJSON decodes name into out. Returns fs.ErrNotExist when absent.
func (d *Dir) ReadJSON(name string, out any) error {
	b, err := os.ReadFile(d.Path(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (d *Dir) writeAtomic(name string, b []byte) error {
	path := d.Path(name)
	tmp, err := os.CreateTemp(d.root, name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteEvents replaces the per-calendar artifact for hash. An empty slice
// writes a valid empty sequence; this records "we checked, no bookings".
func (d *Dir) WriteEvents(hash string, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	return d.WriteJSON(EventsFile(hash), events)
}

// ReadEvents loads one per-calendar artifact. A missing artifact returns
// (nil, false, nil): the source was never extracted.
func (d *Dir) ReadEvents(hash string) ([]Event, bool, error) {
	var events []Event
	err := d.ReadJSON(EventsFile(hash), &events)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return events, true, nil
}

// ListEventFiles returns the source hashes that currently have an artifact.
func (d *Dir) ListEventFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, "events_*.json"))
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		h := base[len("events_") : len(base)-len(".json")]
		if len(h) == 8 {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

// Fingerprint stats the per-calendar artifacts under this directory.
func (d *Dir) Fingerprint() (Fingerprint, error) {
	return FingerprintDir(d.root)
}

// WriteFingerprint records the fingerprint the merged schedule was built from.
func (d *Dir) WriteFingerprint(fp Fingerprint) error {
	return d.writeAtomic(FingerprintFile, []byte(fp.String()+"\n"))
}

// ReadFingerprint loads the recorded fingerprint, or ok=false when absent.
func (d *Dir) ReadFingerprint() (Fingerprint, bool, error) {
	b, err := os.ReadFile(d.Path(FingerprintFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, err
	}
	fp, err := ParseFingerprint(string(b))
	if err != nil {
		return Fingerprint{}, false, err
	}
	return fp, true, nil
}

// WriteCompleteMarker atomically drops the end-of-run marker.
func (d *Dir) WriteCompleteMarker(body string) error {
	return d.writeAtomic(CompleteMarker, []byte(body))
}
