package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/driftsim/config"
	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/diffusion"
)

// recordBatch is the number of deposition or patch rows buffered before writing.
const recordBatch = 512

// DepoRecord is one drifted deposition in depos.csv.
type DepoRecord struct {
	Time    float64 `csv:"t"`
	X       float64 `csv:"x"`
	Y       float64 `csv:"y"`
	Z       float64 `csv:"z"`
	Charge  float64 `csv:"q"`
	ExtentL float64 `csv:"sigma_l"`
	ExtentT float64 `csv:"sigma_t"`
}

// PatchRecord summarises one charge patch in patches.csv.
type PatchRecord struct {
	LBegin   float64 `csv:"l_begin"`
	TBegin   float64 `csv:"t_begin"`
	NBinsL   int     `csv:"n_l"`
	NBinsT   int     `csv:"n_t"`
	MeanL    float64 `csv:"mean_l"`
	MeanT    float64 `csv:"mean_t"`
	SigmaL   float64 `csv:"sigma_l"`
	SigmaT   float64 `csv:"sigma_t"`
	Charge   float64 `csv:"q"`
	DepoTime float64 `csv:"depo_t"`
}

// NewPatchRecord summarises p.
func NewPatchRecord(p *diffusion.Patch) PatchRecord {
	r := PatchRecord{
		LBegin: p.LBegin(),
		TBegin: p.TRange.Low,
		NBinsL: p.NBinsL(),
		NBinsT: p.NBinsT(),
		MeanL:  p.MeanL,
		MeanT:  p.MeanT,
		SigmaL: p.SigmaL,
		SigmaT: p.SigmaT,
		Charge: p.Charge(),
	}
	if p.Depo != nil {
		r.DepoTime = p.Depo.Time()
	}
	return r
}

// csvLog is a CSV file whose header is written with the first batch.
type csvLog struct {
	file          *os.File
	headerWritten bool
}

func writeRecords[T any](l *csvLog, records []T) error {
	if len(records) == 0 {
		return nil
	}
	if !l.headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, l.file); err != nil {
			return err
		}
		l.headerWritten = true
		return nil
	}
	// Subsequent writes skip headers
	return gocsv.MarshalWithoutHeaders(records, l.file)
}

// OutputManager handles structured run output with CSV logging.
// A nil *OutputManager discards everything.
type OutputManager struct {
	dir   string
	runID string

	depos     csvLog
	patches   csvLog
	telemetry csvLog
	perf      csvLog
	bookmarks csvLog

	pendingDepos   []DepoRecord
	pendingPatches []PatchRecord
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir, runID string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir, runID: runID}
	files := []struct {
		name string
		log  *csvLog
	}{
		{"depos.csv", &om.depos},
		{"patches.csv", &om.patches},
		{"telemetry.csv", &om.telemetry},
		{"perf.csv", &om.perf},
		{"bookmarks.csv", &om.bookmarks},
	}
	for _, f := range files {
		file, err := os.Create(filepath.Join(dir, f.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", f.name, err)
		}
		f.log.file = file
	}

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// Deposition queues a drifted deposition for depos.csv.
func (om *OutputManager) Deposition(d *depo.Deposition) error {
	if om == nil {
		return nil
	}
	p := d.Pos()
	om.pendingDepos = append(om.pendingDepos, DepoRecord{
		Time:    d.Time(),
		X:       p.X,
		Y:       p.Y,
		Z:       p.Z,
		Charge:  d.Charge(),
		ExtentL: d.ExtentL(),
		ExtentT: d.ExtentT(),
	})
	if len(om.pendingDepos) >= recordBatch {
		return om.flushDepos()
	}
	return nil
}

// Patch queues a patch summary for patches.csv.
func (om *OutputManager) Patch(p *diffusion.Patch) error {
	if om == nil {
		return nil
	}
	om.pendingPatches = append(om.pendingPatches, NewPatchRecord(p))
	if len(om.pendingPatches) >= recordBatch {
		return om.flushPatches()
	}
	return nil
}

func (om *OutputManager) flushDepos() error {
	if err := writeRecords(&om.depos, om.pendingDepos); err != nil {
		return fmt.Errorf("writing depos: %w", err)
	}
	om.pendingDepos = om.pendingDepos[:0]
	return nil
}

func (om *OutputManager) flushPatches() error {
	if err := writeRecords(&om.patches, om.pendingPatches); err != nil {
		return fmt.Errorf("writing patches: %w", err)
	}
	om.pendingPatches = om.pendingPatches[:0]
	return nil
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(&om.telemetry, []WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd float64) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(&om.perf, []PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(&om.bookmarks, []Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// WriteSnapshot saves a snapshot under the snapshots directory.
func (om *OutputManager) WriteSnapshot(s *Snapshot) (string, error) {
	if om == nil {
		return "", nil
	}
	return SaveSnapshot(s, filepath.Join(om.dir, "snapshots"))
}

// WriteSummary writes the run totals to summary.csv.
func (om *OutputManager) WriteSummary(stats RunStats) error {
	if om == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(om.dir, "summary.csv"))
	if err != nil {
		return fmt.Errorf("creating summary.csv: %w", err)
	}
	defer f.Close()

	if err := gocsv.Marshal([]RunStats{stats}, f); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// RunID returns the identifier of the run being written.
func (om *OutputManager) RunID() string {
	if om == nil {
		return ""
	}
	return om.runID
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var errs []error
	if om.depos.file != nil {
		errs = append(errs, om.flushDepos())
	}
	if om.patches.file != nil {
		errs = append(errs, om.flushPatches())
	}
	for _, l := range []*csvLog{&om.depos, &om.patches, &om.telemetry, &om.perf, &om.bookmarks} {
		if l.file != nil {
			errs = append(errs, l.file.Close())
			l.file = nil
		}
	}
	return errors.Join(errs...)
}
