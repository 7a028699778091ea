package artifact

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SourceHash returns the first 8 hex characters of SHA-1 of the source URL.
// It is the stable identity of a calendar source on disk.
func SourceHash(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:8]
}

// Fingerprint summarizes the state of the per-calendar artifacts in a
// directory. It changes whenever any artifact is rewritten or an artifact
// gains or loses events, which makes it the rebuild trigger for the merged
// schedule.
type Fingerprint struct {
	MaxMtime time.Time
	NonEmpty int
}

// An artifact holding a bare empty JSON array is at most this many bytes.
const emptyArtifactMaxSize = 8

// FingerprintDir stats every per-calendar artifact under dir. No file
// contents are read.
func FingerprintDir(dir string) (Fingerprint, error) {
	var fp Fingerprint
	matches, err := filepath.Glob(filepath.Join(dir, "events_*.json"))
	if err != nil {
		return fp, err
	}
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.ModTime().After(fp.MaxMtime) {
			fp.MaxMtime = fi.ModTime()
		}
		if fi.Size() > emptyArtifactMaxSize {
			fp.NonEmpty++
		}
	}
	return fp, nil
}

func (fp Fingerprint) String() string {
	return strconv.FormatInt(fp.MaxMtime.UnixNano(), 10) + ":" + strconv.Itoa(fp.NonEmpty)
}

func (fp Fingerprint) Equal(other Fingerprint) bool {
	return fp.MaxMtime.Equal(other.MaxMtime) && fp.NonEmpty == other.NonEmpty
}

// ParseFingerprint reads the string form written alongside the merged
// schedule.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	nanos, count, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return fp, fmt.Errorf("malformed fingerprint %q", s)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return fp, fmt.Errorf("malformed fingerprint mtime: %w", err)
	}
	c, err := strconv.Atoi(count)
	if err != nil {
		return fp, fmt.Errorf("malformed fingerprint count: %w", err)
	}
	fp.MaxMtime = time.Unix(0, n)
	fp.NonEmpty = c
	return fp, nil
}
