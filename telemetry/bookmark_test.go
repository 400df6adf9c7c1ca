package telemetry

import "testing"

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_DropSpike(t *testing.T) {
	bd := NewBookmarkDetector(10)

	// History with a low drop fraction
	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{
			WindowEnd: float64(i * 1000),
			Inserted:  100,
			Dropped:   2,
		})
	}

	spike := WindowStats{
		WindowEnd: 5000,
		Inserted:  100,
		Dropped:   20, // 10x the 0.02 average
	}
	if !hasBookmark(bd.Check(spike), BookmarkDropSpike) {
		t.Error("expected drop_spike bookmark")
	}
}

func TestBookmarkDetector_AbsorptionDip(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{
			WindowEnd: float64(i * 1000),
			Inserted:  50,
			Drifted:   50,
			Survival:  0.9,
		})
	}

	dip := WindowStats{
		WindowEnd: 5000,
		Inserted:  50,
		Drifted:   50,
		Survival:  0.5,
	}
	if !hasBookmark(bd.Check(dip), BookmarkAbsorptionDip) {
		t.Error("expected absorption_dip bookmark")
	}
}

func TestBookmarkDetector_Backlog(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{
			WindowEnd:        float64(i * 1000),
			Inserted:         10,
			PendingDrift:     15,
			PendingDiffusion: 5,
		})
	}

	backlog := WindowStats{
		WindowEnd:        5000,
		Inserted:         10,
		PendingDrift:     150,
		PendingDiffusion: 50,
	}
	if !hasBookmark(bd.Check(backlog), BookmarkBacklog) {
		t.Error("expected backlog bookmark")
	}
}

func TestBookmarkDetector_QuietOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)
	bd.Check(WindowStats{WindowEnd: 1000, Inserted: 10})

	if !hasBookmark(bd.Check(WindowStats{WindowEnd: 2000}), BookmarkQuiet) {
		t.Error("expected quiet bookmark")
	}
	if hasBookmark(bd.Check(WindowStats{WindowEnd: 3000}), BookmarkQuiet) {
		t.Error("quiet bookmark should not repeat for consecutive quiet windows")
	}
}

func TestBookmarkDetector_SteadyTriggersOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)

	count := 0
	for i := 0; i < 12; i++ {
		stats := WindowStats{
			WindowEnd: float64(i * 1000),
			Inserted:  50,
			Drifted:   50,
			Survival:  0.9,
		}
		if hasBookmark(bd.Check(stats), BookmarkSteady) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("steady bookmark triggered %d times, want 1", count)
	}
}
