// Package player owns the playlist and drives the media engine. All
// playlist and engine mutations happen on a single goroutine fed by a
// serialized command channel; status snapshots are broadcast to
// subscribers on every observable transition and on a 1s tick while
// playing.
package player

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"playbackd/internal/engine"
	"playbackd/internal/models"
	"playbackd/internal/store"
)

const tickInterval = time.Second

// historyKeep caps the history table; older rows are pruned on insert.
const historyKeep = 1000

// Live relays sit a few seconds behind the edge for stability (the
// proxy's first segment fetch can be slow).
var liveRelayConfig = engine.LiveConfig{
	TargetOffsetMs: 5000,
	MinOffsetMs:    0,
	MaxOffsetMs:    20000,
}

// Directive is a fully resolved play command.
type Directive struct {
	RequestID   string
	PlayableURL string
	SourceURL   string
	SourceType  models.SourceType
	Title       string
	Artist      string
	Playlist    []string
	Index       int
}

type cmdKind int

const (
	cmdPlay cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdNext
	cmdPrev
	cmdSeek
)

type command struct {
	kind       cmdKind
	directive  *Directive
	positionMs int64
	generation uint64
}

type Player struct {
	eng     engine.Engine
	history *store.Store
	appName string

	commands   chan command
	generation atomic.Uint64

	mu         sync.RWMutex
	items      []string
	index      int
	title      string
	artist     string
	sourceURL  string
	sourceType models.SourceType
	requestID  string
	trackStart time.Time
	trackURL   string

	subMu       sync.Mutex
	subscribers map[chan models.PlaybackStatus]struct{}

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	stepNotify chan struct{}
}

type Option func(*Player)

// WithHistory makes the player persist every finished track.
func WithHistory(s *store.Store) Option {
	return func(p *Player) { p.history = s }
}

// WithAppName sets the default title/artist for untitled tracks.
func WithAppName(name string) Option {
	return func(p *Player) { p.appName = name }
}

func New(eng engine.Engine, opts ...Option) *Player {
	p := &Player{
		eng:         eng,
		appName:     "playbackd",
		commands:    make(chan command, 16),
		index:       -1,
		subscribers: make(map[chan models.PlaybackStatus]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.title = p.appName
	p.artist = p.appName
	return p
}

func (p *Player) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		p.done = make(chan struct{})
		go p.run(ctx)
	})
}

func (p *Player) Stop() {
	if p.cancel != nil && p.done != nil {
		p.cancel()
		<-p.done
	}
}

// Supersede claims the next directive generation. Claim it when the
// play command arrives, before resolution starts: a newer play or stop
// then invalidates the slower in-flight resolution no matter which
// network call finishes first.
func (p *Player) Supersede() uint64 {
	return p.generation.Add(1)
}

// Play enqueues a play directive under a generation claimed with
// Supersede. If a newer generation exists by the time the directive is
// dequeued, it is discarded.
func (p *Player) Play(gen uint64, d Directive) {
	p.enqueue(command{kind: cmdPlay, directive: &d, generation: gen})
}

func (p *Player) Pause()  { p.enqueue(command{kind: cmdPause}) }
func (p *Player) Resume() { p.enqueue(command{kind: cmdResume}) }
func (p *Player) Next()   { p.enqueue(command{kind: cmdNext}) }
func (p *Player) Prev()   { p.enqueue(command{kind: cmdPrev}) }

func (p *Player) StopPlayback() {
	gen := p.generation.Add(1)
	p.enqueue(command{kind: cmdStop, generation: gen})
}

func (p *Player) Seek(positionMs int64) {
	p.enqueue(command{kind: cmdSeek, positionMs: positionMs})
}

func (p *Player) enqueue(cmd command) {
	select {
	case p.commands <- cmd:
	default:
		// Command queue full: the UI is flooding us. Dropping is safer
		// than blocking the HTTP handler; state converges via status.
		log.Printf("player: command queue full, dropping %d", cmd.kind)
	}
}

// Status returns the current snapshot. Engine errors are only carried
// by the status event emitted at the moment they occur.
func (p *Player) Status() models.PlaybackStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statusLocked(nil)
}

func (p *Player) Subscribe() chan models.PlaybackStatus {
	ch := make(chan models.PlaybackStatus, 8)
	p.subMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subMu.Unlock()
	return ch
}

func (p *Player) Unsubscribe(ch chan models.PlaybackStatus) {
	p.subMu.Lock()
	_, exists := p.subscribers[ch]
	delete(p.subscribers, ch)
	p.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (p *Player) run(ctx context.Context) {
	defer close(p.done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tick = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.commands:
			p.handleCommand(cmd)
		case ev, ok := <-p.eng.Events():
			if !ok {
				return
			}
			p.handleEvent(ev)
		case <-tick:
			p.publish(p.Status())
			continue
		}

		// The tick runs only while actively playing; it exists to keep
		// positionMs fresh for observers between transitions.
		if p.eng.IsPlaying() {
			if ticker == nil {
				ticker = time.NewTicker(tickInterval)
				tick = ticker.C
			}
		} else {
			stopTicker()
		}
		p.step()
	}
}

func (p *Player) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdPlay:
		if cmd.generation != p.generation.Load() {
			log.Printf("player: discarding superseded play directive (gen %d)", cmd.generation)
			return
		}
		p.handlePlay(*cmd.directive)
	case cmdPause:
		if err := p.eng.Pause(); err != nil {
			log.Printf("player: pause: %v", err)
		}
	case cmdResume:
		if err := p.eng.Play(); err != nil {
			log.Printf("player: resume: %v", err)
		}
	case cmdStop:
		p.handleStop()
	case cmdNext:
		p.handleNext()
	case cmdPrev:
		p.handlePrev()
	case cmdSeek:
		if err := p.eng.Seek(cmd.positionMs); err != nil {
			log.Printf("player: seek: %v", err)
		}
	}
	p.publish(p.Status())
}

func (p *Player) handlePlay(d Directive) {
	p.finishTrack()

	items := make([]string, 0, len(d.Playlist)+1)
	for _, it := range d.Playlist {
		if strings.TrimSpace(it) != "" {
			items = append(items, it)
		}
	}

	index := 0
	if len(items) == 0 {
		items = []string{d.PlayableURL}
	} else if d.Index >= 0 && d.Index < len(items) {
		index = d.Index
	} else if i := slices.Index(items, d.PlayableURL); i >= 0 {
		index = i
	} else {
		items = slices.Insert(items, 0, d.PlayableURL)
	}

	p.mu.Lock()
	p.items = items
	p.index = index
	p.title = orDefault(d.Title, p.appName)
	p.artist = orDefault(d.Artist, p.appName)
	p.sourceURL = d.SourceURL
	p.sourceType = d.SourceType
	p.requestID = d.RequestID
	p.mu.Unlock()

	log.Printf("player: play type=%s playlist=%d index=%d source=%s", d.SourceType, len(items), index, d.SourceURL)
	p.playCurrent()
}

func (p *Player) handleStop() {
	p.finishTrack()
	if err := p.eng.Stop(); err != nil {
		log.Printf("player: stop: %v", err)
	}
	p.mu.Lock()
	p.items = nil
	p.index = -1
	p.sourceURL = ""
	p.requestID = ""
	p.mu.Unlock()
}

func (p *Player) handleNext() {
	p.mu.RLock()
	canAdvance := p.index >= 0 && p.index < len(p.items)-1
	p.mu.RUnlock()
	if !canAdvance {
		return
	}
	p.finishTrack()
	p.mu.Lock()
	p.index++
	p.mu.Unlock()
	p.playCurrent()
}

func (p *Player) handlePrev() {
	p.mu.RLock()
	atStart := p.index <= 0
	p.mu.RUnlock()
	if atStart {
		// Restart rather than wrap.
		if err := p.eng.Seek(0); err != nil {
			log.Printf("player: restart seek: %v", err)
		}
		return
	}
	p.finishTrack()
	p.mu.Lock()
	p.index--
	p.mu.Unlock()
	p.playCurrent()
}

func (p *Player) playCurrent() {
	p.mu.RLock()
	var url string
	valid := p.index >= 0 && p.index < len(p.items)
	if valid {
		url = p.items[p.index]
	}
	index := p.index
	size := len(p.items)
	p.mu.RUnlock()

	if !valid {
		log.Printf("player: playCurrent skipped, index=%d size=%d", index, size)
		return
	}

	track := engine.Track{URI: url, MIMEType: engine.InferMIMEType(url)}
	if isLiveRelay(url) {
		cfg := liveRelayConfig
		track.Live = &cfg
	}

	if err := p.eng.Load(track); err != nil {
		log.Printf("player: load %s: %v", url, err)
		return
	}
	if err := p.eng.Prepare(); err != nil {
		log.Printf("player: prepare: %v", err)
		return
	}
	if err := p.eng.Play(); err != nil {
		log.Printf("player: start: %v", err)
		return
	}

	p.mu.Lock()
	p.trackStart = time.Now().UTC()
	p.trackURL = url
	p.mu.Unlock()
}

func (p *Player) handleEvent(ev engine.Event) {
	if ev.Err != nil {
		if errors.Is(ev.Err, engine.ErrBehindLiveWindow) {
			// Fell out of the live manifest's retained window. Jump back
			// to the live edge and re-prepare; this never surfaces as an
			// error to observers.
			log.Printf("player: behind live window, reseeking to live edge")
			if err := p.eng.SeekToLiveEdge(); err != nil {
				log.Printf("player: live edge seek: %v", err)
			}
			if err := p.eng.Prepare(); err != nil {
				log.Printf("player: re-prepare: %v", err)
			}
			return
		}
		log.Printf("player: engine error: %v", ev.Err)
		msg := ev.Err.Error()
		p.mu.RLock()
		status := p.statusLocked(&msg)
		p.mu.RUnlock()
		p.publish(status)
		return
	}

	if ev.Phase != nil && *ev.Phase == engine.PhaseEnded {
		p.handleTrackEnded()
	}

	p.publish(p.Status())
}

func (p *Player) handleTrackEnded() {
	p.finishTrack()
	p.mu.RLock()
	canAdvance := p.index >= 0 && p.index < len(p.items)-1
	index := p.index
	p.mu.RUnlock()

	if !canAdvance {
		log.Printf("player: playlist ended at index %d", index)
		return
	}
	p.mu.Lock()
	p.index++
	next := p.index
	p.mu.Unlock()
	log.Printf("player: track ended, auto-advancing to %d", next)
	p.playCurrent()
}

// finishTrack records the track being torn down, if any. Called before
// every reload and on stop; a no-op when nothing was started.
func (p *Player) finishTrack() {
	p.mu.Lock()
	if p.trackStart.IsZero() {
		p.mu.Unlock()
		return
	}
	entry := &models.HistoryEntry{
		RequestID:   p.requestID,
		SourceURL:   p.sourceURL,
		PlayableURL: p.trackURL,
		SourceType:  p.sourceType,
		Title:       p.title,
		Artist:      p.artist,
		StartedAt:   p.trackStart,
		StoppedAt:   time.Now().UTC(),
		PositionMs:  p.eng.Position(),
		DurationMs:  max(p.eng.Duration(), 0),
	}
	p.trackStart = time.Time{}
	p.trackURL = ""
	p.mu.Unlock()

	if p.history == nil {
		return
	}
	if err := p.history.InsertHistory(entry); err != nil {
		log.Printf("player: persisting history for %s: %v", entry.Title, err)
		return
	}
	if err := p.history.PruneHistory(historyKeep); err != nil {
		log.Printf("player: pruning history: %v", err)
	}
}

// statusLocked derives a snapshot; callers hold p.mu.
func (p *Player) statusLocked(errMsg *string) models.PlaybackStatus {
	phase := p.eng.Phase()
	playing := p.eng.IsPlaying()

	state := phase.String()
	if phase == engine.PhaseReady {
		if playing {
			state = "playing"
		} else {
			state = "paused"
		}
	}

	var currentURL *string
	if p.index >= 0 && p.index < len(p.items) {
		u := p.items[p.index]
		currentURL = &u
	}

	return models.PlaybackStatus{
		Playing:    playing,
		Buffering:  phase == engine.PhaseBuffering,
		CurrentURL: currentURL,
		Title:      p.title,
		Artist:     p.artist,
		PositionMs: p.eng.Position(),
		DurationMs: max(p.eng.Duration(), 0),
		Index:      p.index,
		HasNext:    p.index >= 0 && p.index < len(p.items)-1,
		HasPrev:    p.index > 0,
		Error:      errMsg,
		State:      state,
	}
}

func (p *Player) publish(status models.PlaybackStatus) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subscribers {
		select {
		case ch <- status:
		default:
		}
	}
}

func (p *Player) step() {
	if p.stepNotify != nil {
		select {
		case p.stepNotify <- struct{}{}:
		default:
		}
	}
}

func isLiveRelay(url string) bool {
	return strings.Contains(url, "/hls-proxy")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
