package transcript

import "sync"

// reveal is the owned handle of a running welcome animation. It is stopped exactly once, either by the
// controller when the transcript is reset or closed, or by itself after the last character.
type reveal struct {
	text  []rune
	shown int

	ticker   Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func newReveal(text string, ticker Ticker) *reveal {
	return &reveal{
		text:   []rune(text),
		ticker: ticker,
		done:   make(chan struct{}),
	}
}

// advance shows one more character and returns the visible text and whether characters remain.
func (r *reveal) advance() (string, bool) {
	if r.shown < len(r.text) {
		r.shown++
	}
	return string(r.text[:r.shown]), r.shown < len(r.text)
}

func (r *reveal) stop() {
	r.stopOnce.Do(func() {
		r.ticker.Stop()
		close(r.done)
	})
}
