package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pthm-cable/driftsim/depo"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the buffered pipeline state at a point in simulated time, enough
// to replay the depositions still in flight.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Seed    uint64 `json:"seed"`

	Now float64 `json:"now"`

	// Depositions waiting in the drift stage, in arrival order per region.
	Pending []DepoState `json:"pending"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// DepoState is the serializable form of a deposition. Prior links are not kept.
type DepoState struct {
	Time    float64 `json:"t"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Charge  float64 `json:"q"`
	ExtentL float64 `json:"sigma_l,omitempty"`
	ExtentT float64 `json:"sigma_t,omitempty"`
}

// NewDepoState captures d.
func NewDepoState(d *depo.Deposition) DepoState {
	p := d.Pos()
	return DepoState{
		Time:    d.Time(),
		X:       p.X,
		Y:       p.Y,
		Z:       p.Z,
		Charge:  d.Charge(),
		ExtentL: d.ExtentL(),
		ExtentT: d.ExtentT(),
	}
}

// Deposition rebuilds the deposition.
func (s DepoState) Deposition() *depo.Deposition {
	return depo.Derive(s.Time, depo.Point{X: s.X, Y: s.Y, Z: s.Z}, s.Charge, s.ExtentL, s.ExtentT, depo.Ref{})
}

// CaptureSnapshot builds a snapshot of the given in-flight depositions.
func CaptureSnapshot(runID string, seed uint64, now float64, pending []*depo.Deposition, bm *Bookmark) *Snapshot {
	s := &Snapshot{
		Version:  SnapshotVersion,
		RunID:    runID,
		Seed:     seed,
		Now:      now,
		Pending:  make([]DepoState, len(pending)),
		Bookmark: bm,
	}
	for i, d := range pending {
		s.Pending[i] = NewDepoState(d)
	}
	return s
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	// Build filename
	name := fmt.Sprintf("snapshot_%.0f", snapshot.Now)
	if snapshot.Bookmark != nil {
		// Sanitize bookmark type for filename
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%.0f_%s", snapshot.Now, sanitized)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}

// Depositions rebuilds the pending depositions.
func (s *Snapshot) Depositions() []*depo.Deposition {
	out := make([]*depo.Deposition, len(s.Pending))
	for i, st := range s.Pending {
		out[i] = st.Deposition()
	}
	return out
}
