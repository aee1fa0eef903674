package pixvault

// Progress is one progress report.
type Progress struct {
	// Percent runs from 0 to 100 and never decreases within a call.
	Percent float64
	// Phase is a short label such as "Archiving" or "Extracting".
	Phase string
	// Entry names the archive entry just processed, if any.
	Entry string
	// Start and End bound Entry's compressed bytes within the archive
	// while extracting.
	Start, End int64
}

// ProgressFunc receives progress reports. It is called synchronously from
// the encoding or decoding goroutine.
type ProgressFunc func(Progress)

// progress clamps reports so the sink only ever sees non-decreasing
// percentages in [0, 100].
type progress struct {
	fn   ProgressFunc
	last float64
}

func newProgress(fn ProgressFunc) *progress {
	return &progress{fn: fn}
}

func (p *progress) send(ev Progress) {
	if p.fn == nil {
		return
	}
	ev.Percent = min(max(ev.Percent, p.last), 100)
	p.last = ev.Percent
	p.fn(ev)
}

func (p *progress) phase(pct float64, phase string) {
	p.send(Progress{Percent: pct, Phase: phase})
}

// span maps done/total onto the percentage range [lo, hi].
func span(lo, hi float64, done, total int64) float64 {
	if total <= 0 {
		return hi
	}
	return lo + (hi-lo)*float64(done)/float64(total)
}
