package engine

import "sync"

// Fake is an in-process engine for tests and for running the daemon
// without a real renderer (ENGINE=null). It transitions instantly:
// Prepare buffers, Play reaches ready, and tests drive completions and
// errors through EndTrack/Fail.
type Fake struct {
	mu       sync.Mutex
	events   chan Event
	track    *Track
	loads    []Track
	seeks    []int64
	phase    Phase
	playing  bool
	position int64
	duration int64

	liveEdgeSeeks int
	prepares      int
	stops         int
}

var _ Engine = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{events: make(chan Event, 64)}
}

func (f *Fake) Load(t Track) error {
	f.mu.Lock()
	f.track = &t
	f.loads = append(f.loads, t)
	f.position = 0
	f.mu.Unlock()
	return nil
}

func (f *Fake) Prepare() error {
	f.mu.Lock()
	f.prepares++
	f.phase = PhaseBuffering
	f.mu.Unlock()
	f.emitPhase(PhaseBuffering)
	return nil
}

func (f *Fake) Play() error {
	f.mu.Lock()
	hasTrack := f.track != nil
	f.mu.Unlock()
	if !hasTrack {
		return nil
	}
	f.setPhase(PhaseReady)
	f.setPlaying(true)
	return nil
}

func (f *Fake) Pause() error {
	f.setPlaying(false)
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	f.stops++
	f.track = nil
	f.mu.Unlock()
	f.setPlaying(false)
	f.setPhase(PhaseIdle)
	return nil
}

func (f *Fake) Seek(positionMs int64) error {
	f.mu.Lock()
	f.seeks = append(f.seeks, positionMs)
	f.position = positionMs
	f.mu.Unlock()
	f.events <- Event{Discontinuity: true}
	return nil
}

func (f *Fake) SeekToLiveEdge() error {
	f.mu.Lock()
	f.liveEdgeSeeks++
	f.mu.Unlock()
	return nil
}

func (f *Fake) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *Fake) Duration() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *Fake) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *Fake) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *Fake) Events() <-chan Event { return f.events }

func (f *Fake) Close() error { return nil }

// EndTrack simulates natural completion of the loaded track.
func (f *Fake) EndTrack() {
	f.setPlaying(false)
	f.setPhase(PhaseEnded)
}

// Fail injects an engine error event.
func (f *Fake) Fail(err error) {
	f.events <- Event{Err: err}
}

// SetDuration sets the reported track duration.
func (f *Fake) SetDuration(ms int64) {
	f.mu.Lock()
	f.duration = ms
	f.mu.Unlock()
}

// SetPosition sets the reported playback position without an event.
func (f *Fake) SetPosition(ms int64) {
	f.mu.Lock()
	f.position = ms
	f.mu.Unlock()
}

// Loads returns every track handed to Load, in order.
func (f *Fake) Loads() []Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Track, len(f.loads))
	copy(out, f.loads)
	return out
}

// Seeks returns every position handed to Seek, in order.
func (f *Fake) Seeks() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.seeks))
	copy(out, f.seeks)
	return out
}

// LiveEdgeSeeks reports how many times the live-edge recovery ran.
func (f *Fake) LiveEdgeSeeks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveEdgeSeeks
}

// Prepares reports how many times Prepare was called.
func (f *Fake) Prepares() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepares
}

func (f *Fake) setPhase(p Phase) {
	f.mu.Lock()
	changed := f.phase != p
	f.phase = p
	f.mu.Unlock()
	if changed {
		f.emitPhase(p)
	}
}

func (f *Fake) setPlaying(playing bool) {
	f.mu.Lock()
	changed := f.playing != playing
	f.playing = playing
	f.mu.Unlock()
	if changed {
		p := playing
		f.events <- Event{Playing: &p}
	}
}

func (f *Fake) emitPhase(p Phase) {
	phase := p
	f.events <- Event{Phase: &phase}
}
