package live

import "time"

// Windows are the timing parameters of the sync layer. The defaults are
// the values the product shipped with; they are tunable, not invariants.
type Windows struct {
	// Dedupe is the existence pre-check window: a confirmed record with
	// identical content and sender this close in time to an incoming
	// insert makes the insert a duplicate.
	Dedupe time.Duration
	// Swap is the provisional match window: a confirmed insert pairs
	// with a provisional record when content and sender match and the
	// creation times differ by less than this.
	Swap time.Duration
	// TypingIdle is how long after the last keystroke the local typist
	// auto-stops.
	TypingIdle time.Duration
	// PresenceTTL is the forced expiry for remote typing entries whose
	// stop event was lost.
	PresenceTTL time.Duration
	// Settle is the pause between tearing down a subscription handle
	// and creating its replacement.
	Settle time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		Dedupe:      5 * time.Second,
		Swap:        10 * time.Second,
		TypingIdle:  3 * time.Second,
		PresenceTTL: 5 * time.Second,
		Settle:      100 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultWindows.
func (w Windows) withDefaults() Windows {
	d := DefaultWindows()
	if w.Dedupe <= 0 {
		w.Dedupe = d.Dedupe
	}
	if w.Swap <= 0 {
		w.Swap = d.Swap
	}
	if w.TypingIdle <= 0 {
		w.TypingIdle = d.TypingIdle
	}
	if w.PresenceTTL <= 0 {
		w.PresenceTTL = d.PresenceTTL
	}
	if w.Settle <= 0 {
		w.Settle = d.Settle
	}
	return w
}
