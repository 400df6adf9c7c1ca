package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkDropSpike     BookmarkType = "drop_spike"
	BookmarkAbsorptionDip BookmarkType = "absorption_dip"
	BookmarkBacklog       BookmarkType = "backlog"
	BookmarkQuiet         BookmarkType = "quiet"
	BookmarkSteady        BookmarkType = "steady"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	WindowEnd   float64      `csv:"window_end" json:"window_end"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"window_end", b.WindowEnd,
		"description", b.Description,
	)
}

// BookmarkDetector detects unusual windows in a run.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	steadyWindows int // consecutive windows with stable survival
	wasQuiet      bool
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for steady state detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// Drop spike: drop fraction > 2x rolling average
		if b := bd.checkDropSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Absorption dip: survival < 70% of rolling average
		if b := bd.checkAbsorptionDip(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Backlog: buffered items > 3x rolling average
		if b := bd.checkBacklog(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Quiet: no input after a window that had some
		if b := bd.checkQuiet(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Steady: survival stable over 5+ windows
		if b := bd.checkSteady(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func dropFraction(s WindowStats) float64 {
	if s.Inserted == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(s.Inserted)
}

func (bd *BookmarkDetector) checkDropSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 || stats.Dropped < 5 {
		return nil
	}

	var totalDropped, totalInserted int
	for _, h := range history {
		totalDropped += h.Dropped
		totalInserted += h.Inserted
	}
	if totalInserted == 0 {
		return nil
	}

	avg := float64(totalDropped) / float64(totalInserted)
	current := dropFraction(stats)
	// A clean history makes any real drop burst notable.
	if current > 2*avg && current > 0.05 {
		return &Bookmark{
			Type:        BookmarkDropSpike,
			WindowEnd:   stats.WindowEnd,
			Description: fmt.Sprintf("Drop fraction %.2f vs average %.2f", current, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkAbsorptionDip(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 || stats.Drifted == 0 {
		return nil
	}

	var sum float64
	var n int
	for _, h := range history {
		if h.Drifted > 0 {
			sum += h.Survival
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	if avg > 0 && stats.Survival < 0.7*avg {
		return &Bookmark{
			Type:        BookmarkAbsorptionDip,
			WindowEnd:   stats.WindowEnd,
			Description: fmt.Sprintf("Survival %.3f is %.0f%% of average %.3f", stats.Survival, 100*stats.Survival/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkBacklog(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var sum float64
	for _, h := range history {
		sum += float64(h.PendingDrift + h.PendingDiffusion)
	}
	avg := sum / float64(len(history))
	current := float64(stats.PendingDrift + stats.PendingDiffusion)
	if current > 3*avg && current > 100 {
		return &Bookmark{
			Type:        BookmarkBacklog,
			WindowEnd:   stats.WindowEnd,
			Description: fmt.Sprintf("%d buffered (drift %d, diffusion %d) vs average %.0f", int(current), stats.PendingDrift, stats.PendingDiffusion, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkQuiet(stats WindowStats) *Bookmark {
	if stats.Inserted > 0 {
		bd.wasQuiet = false
		return nil
	}
	if bd.wasQuiet {
		return nil
	}
	bd.wasQuiet = true
	return &Bookmark{
		Type:        BookmarkQuiet,
		WindowEnd:   stats.WindowEnd,
		Description: "No depositions entered during the window",
	}
}

func (bd *BookmarkDetector) checkSteady(stats WindowStats) *Bookmark {
	if stats.Drifted < 10 {
		bd.steadyWindows = 0
		return nil
	}

	history := bd.getHistory()
	if len(history) < 4 {
		return nil
	}

	values := make([]float64, 0, 4)
	for _, h := range history[len(history)-4:] {
		values = append(values, h.Survival)
	}
	mean, std := ComputeSpread(values)

	// Coefficient of variation below 5%
	if mean > 0 && std/mean < 0.05 {
		bd.steadyWindows++
	} else {
		bd.steadyWindows = 0
	}

	if bd.steadyWindows == 5 { // trigger exactly once at 5 windows
		return &Bookmark{
			Type:        BookmarkSteady,
			WindowEnd:   stats.WindowEnd,
			Description: fmt.Sprintf("Survival steady at %.3f over 5+ windows", mean),
		}
	}
	return nil
}
