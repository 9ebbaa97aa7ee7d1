package fetch

// Progress is handed to the caller's callback. Total comes from the
// transport; EstimatedTotal and Unpacked are only set in decompressor mode.
type Progress struct {
	Total          int64
	Written        int64
	EstimatedTotal int64
	Unpacked       int64
}

// Counts returns the pair progress should be measured by: unpacked bytes
// against the estimate when there is one, otherwise written bytes against
// the declared total.
func (p Progress) Counts() (done, total int64) {
	if p.EstimatedTotal > 0 {
		return p.Unpacked, p.EstimatedTotal
	}
	return p.Written, p.Total
}

// Percent is clamped to [0, 100]; it is 0 while no total is known.
func (p Progress) Percent() float64 {
	done, total := p.Counts()
	if total <= 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(total)
	return min(max(pct, 0), 100)
}

func (p Progress) known() bool {
	return p.Total > 0 || p.EstimatedTotal > 0
}

// ProgressCallback returns true to cancel the transfer.
type ProgressCallback func(Progress) (cancel bool)

type tracker struct {
	cb ProgressCallback
}

func (t tracker) tick(p Progress) bool {
	if t.cb == nil || !p.known() {
		return false
	}
	return t.cb(p)
}
