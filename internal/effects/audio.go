// Package effects holds the live media effect pipelines: a per-frame
// video compositor and an audio processing graph. Both are deliberately
// approximate renditions (whole-frame blur, allpass "pitch" shift) and
// must stay that way; see the node constructors for the fixed parameters.
package effects

import (
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/domain"
)

const SampleRate = 44100

// AudioNode transforms one buffer of mono float32 samples in place or
// into a returned buffer. Nodes are chained in graph order.
type AudioNode interface {
	Process(buf []float32) []float32
	// Reset drops internal state (delay lines, filter history).
	Reset()
}

var ErrEngineClosed = errors.New("audio engine closed")

// AudioEngine is the audio-context analog: created lazily once per
// session, reused across effect changes, closed exactly once at session
// end. Rebuilding the graph disconnects the previous nodes first.
type AudioEngine struct {
	mu     sync.Mutex
	graph  []AudioNode
	effect domain.VoiceEffect
	closed bool
}

func NewAudioEngine() *AudioEngine {
	return &AudioEngine{effect: domain.VoiceNone}
}

// SetEffect tears down the current graph and builds the one for effect.
// VoiceNone leaves no graph constructed.
func (e *AudioEngine) SetEffect(effect domain.VoiceEffect) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	// Disconnect before rebuilding.
	for _, n := range e.graph {
		n.Reset()
	}
	e.graph = nil
	e.effect = effect

	switch effect {
	case domain.VoiceNone:
	case domain.VoiceRobot:
		e.graph = []AudioNode{NewWaveShaper()}
	case domain.VoiceChipmunk:
		e.graph = []AudioNode{NewAllpass(2000)}
	case domain.VoiceDeep:
		e.graph = []AudioNode{NewAllpass(100)}
	case domain.VoiceEcho:
		e.graph = []AudioNode{NewEcho(0.25, 0.4)}
	}
	log.Debug().Str("module", "effects.audio").Str("effect", string(effect)).Int("nodes", len(e.graph)).Msg("audio graph rebuilt")
	return nil
}

func (e *AudioEngine) Effect() domain.VoiceEffect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effect
}

// GraphSize reports the number of connected nodes; zero when the effect
// is none or the engine is closed.
func (e *AudioEngine) GraphSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.graph)
}

// Process runs buf through the graph. With no graph the signal passes
// through untouched.
func (e *AudioEngine) Process(buf []float32) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return buf
	}
	for _, n := range e.graph {
		buf = n.Process(buf)
	}
	return buf
}

// Close tears the graph down. Safe to call twice; only the first call
// does work.
func (e *AudioEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, n := range e.graph {
		n.Reset()
	}
	e.graph = nil
	e.closed = true
	log.Debug().Str("module", "effects.audio").Msg("audio engine closed")
}

func (e *AudioEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// WaveShaper is the robot voice: a fixed deterministic distortion curve
// sampled over one second of the sample rate.
type WaveShaper struct {
	curve []float32
}

func NewWaveShaper() *WaveShaper {
	curve := make([]float32, SampleRate)
	for i := range curve {
		curve[i] = float32(math.Sin(float64(i) / SampleRate * math.Pi * 2 * 10))
	}
	return &WaveShaper{curve: curve}
}

func (w *WaveShaper) Process(buf []float32) []float32 {
	n := len(w.curve)
	for i, s := range buf {
		// Map [-1,1] onto the curve table.
		idx := int((s + 1) / 2 * float32(n-1))
		if idx < 0 {
			idx = 0
		} else if idx >= n {
			idx = n - 1
		}
		buf[i] = w.curve[idx]
	}
	return buf
}

func (w *WaveShaper) Reset() {}

// Allpass is the documented-as-approximate pitch effect: a first-order
// allpass section tuned at the given frequency. It shifts phase, not
// pitch; real resampling is out of scope.
type Allpass struct {
	freq float64
	coef float64
	x1   float32
	y1   float32
}

func NewAllpass(freq float64) *Allpass {
	tan := math.Tan(math.Pi * freq / SampleRate)
	return &Allpass{freq: freq, coef: (tan - 1) / (tan + 1)}
}

func (a *Allpass) Process(buf []float32) []float32 {
	c := float32(a.coef)
	for i, x := range buf {
		y := c*x + a.x1 - c*a.y1
		a.x1 = x
		a.y1 = y
		buf[i] = y
	}
	return buf
}

func (a *Allpass) Reset() { a.x1, a.y1 = 0, 0 }

// Echo is a feedback delay line: delaySec of lag with feedback gain.
type Echo struct {
	line     []float32
	pos      int
	feedback float32
}

func NewEcho(delaySec, feedback float64) *Echo {
	n := int(delaySec * SampleRate)
	if n < 1 {
		n = 1
	}
	return &Echo{line: make([]float32, n), feedback: float32(feedback)}
}

func (e *Echo) Process(buf []float32) []float32 {
	for i, x := range buf {
		delayed := e.line[e.pos]
		out := x + delayed*e.feedback
		e.line[e.pos] = out
		e.pos++
		if e.pos == len(e.line) {
			e.pos = 0
		}
		buf[i] = out
	}
	return buf
}

func (e *Echo) Reset() {
	for i := range e.line {
		e.line[i] = 0
	}
	e.pos = 0
}

// DelaySamples reports the configured lag, for tests and diagnostics.
func (e *Echo) DelaySamples() int { return len(e.line) }
