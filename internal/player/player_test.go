package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"playbackd/internal/engine"
	"playbackd/internal/models"
	"playbackd/internal/store"
)

func newTestPlayer(t *testing.T, opts ...Option) (*Player, *engine.Fake) {
	t.Helper()
	eng := engine.NewFake()
	p := New(eng, opts...)
	p.stepNotify = make(chan struct{}, 64)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p, eng
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func directive(playlist []string, index int) Directive {
	primary := "https://cdn.example.com/one.mp3"
	if len(playlist) > 0 && index >= 0 && index < len(playlist) {
		primary = playlist[index]
	}
	return Directive{
		RequestID:   "req-1",
		PlayableURL: primary,
		SourceURL:   "https://example.com/source",
		SourceType:  models.SourceAudioFile,
		Title:       "Track",
		Artist:      "Artist",
		Playlist:    playlist,
		Index:       index,
	}
}

func TestPlaySingleItem(t *testing.T) {
	p, eng := newTestPlayer(t)

	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	st := p.Status()
	if st.Index != 0 || st.HasNext || st.HasPrev {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.CurrentURL == nil || *st.CurrentURL != "https://cdn.example.com/one.mp3" {
		t.Fatalf("currentUrl = %v", st.CurrentURL)
	}
	loads := eng.Loads()
	if len(loads) != 1 || loads[0].MIMEType != "audio/mpeg" {
		t.Fatalf("loads = %+v", loads)
	}
}

func TestPlaySelectsRequestedIndex(t *testing.T) {
	p, eng := newTestPlayer(t)
	playlist := []string{"https://x/a.mp3", "https://x/b.mp3", "https://x/c.mp3"}

	p.Play(p.Supersede(), directive(playlist, 1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	st := p.Status()
	if st.Index != 1 || !st.HasNext || !st.HasPrev {
		t.Fatalf("unexpected status: %+v", st)
	}
	if loads := eng.Loads(); loads[0].URI != "https://x/b.mp3" {
		t.Fatalf("loaded %q", loads[0].URI)
	}
}

func TestPlayFindsPrimaryInPlaylist(t *testing.T) {
	p, _ := newTestPlayer(t)
	playlist := []string{"https://x/a.mp3", "https://x/b.mp3"}
	d := directive(playlist, -1)
	d.PlayableURL = "https://x/b.mp3"

	p.Play(p.Supersede(), d)
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })
	if st := p.Status(); st.Index != 1 {
		t.Fatalf("index = %d, want 1", st.Index)
	}
}

func TestPlayInsertsAbsentPrimary(t *testing.T) {
	p, eng := newTestPlayer(t)
	d := directive([]string{"https://x/a.mp3"}, -1)
	d.PlayableURL = "https://x/primary.mp3"

	p.Play(p.Supersede(), d)
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	st := p.Status()
	if st.Index != 0 || !st.HasNext {
		t.Fatalf("unexpected status: %+v", st)
	}
	if loads := eng.Loads(); loads[0].URI != "https://x/primary.mp3" {
		t.Fatalf("loaded %q", loads[0].URI)
	}
}

func TestNextPrevAndAutoAdvanceToEnded(t *testing.T) {
	p, eng := newTestPlayer(t)
	playlist := []string{"https://x/a.mp3", "https://x/b.mp3", "https://x/c.mp3"}

	p.Play(p.Supersede(), directive(playlist, 0))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	p.Next()
	waitFor(t, "index 1", func() bool { return p.Status().Index == 1 })
	p.Next()
	waitFor(t, "index 2", func() bool { return p.Status().Index == 2 })

	// Last item finishes naturally: no wraparound, machine rests in ended.
	eng.EndTrack()
	waitFor(t, "ended", func() bool { return p.Status().State == "ended" })

	st := p.Status()
	if st.HasNext || !st.HasPrev || st.Index != 2 {
		t.Fatalf("unexpected terminal status: %+v", st)
	}
}

func TestAutoAdvanceLoadsNextTrack(t *testing.T) {
	p, eng := newTestPlayer(t)
	playlist := []string{"https://x/a.mp3", "https://x/b.mp3"}

	p.Play(p.Supersede(), directive(playlist, 0))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	eng.EndTrack()
	waitFor(t, "advance", func() bool { return p.Status().Index == 1 })
	waitFor(t, "second load", func() bool { return len(eng.Loads()) == 2 })
	if loads := eng.Loads(); loads[1].URI != "https://x/b.mp3" {
		t.Fatalf("loaded %q", loads[1].URI)
	}
}

func TestNextAtEndIsNoop(t *testing.T) {
	p, eng := newTestPlayer(t)
	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	p.Next()
	waitFor(t, "command processed", func() bool { return len(p.commands) == 0 })
	if st := p.Status(); st.Index != 0 {
		t.Fatalf("index = %d, want 0", st.Index)
	}
	if len(eng.Loads()) != 1 {
		t.Fatalf("expected no reload, got %d loads", len(eng.Loads()))
	}
}

func TestPrevAtStartRestarts(t *testing.T) {
	p, eng := newTestPlayer(t)
	playlist := []string{"https://x/a.mp3", "https://x/b.mp3"}

	p.Play(p.Supersede(), directive(playlist, 0))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })
	eng.SetPosition(42000)

	p.Prev()
	waitFor(t, "restart seek", func() bool {
		seeks := eng.Seeks()
		return len(seeks) == 1 && seeks[0] == 0
	})
	if st := p.Status(); st.Index != 0 {
		t.Fatalf("prev at start must not change index, got %d", st.Index)
	}
}

func TestSeekForwarded(t *testing.T) {
	p, eng := newTestPlayer(t)
	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	p.Seek(90000)
	waitFor(t, "seek", func() bool {
		seeks := eng.Seeks()
		return len(seeks) == 1 && seeks[0] == 90000
	})
}

func TestLiveRelayGetsLiveConfig(t *testing.T) {
	p, eng := newTestPlayer(t)
	d := directive(nil, -1)
	d.PlayableURL = "https://svc/api/youtube/hls-proxy?videoId=abc"
	d.SourceType = models.SourceHLS

	p.Play(p.Supersede(), d)
	waitFor(t, "load", func() bool { return len(eng.Loads()) == 1 })

	track := eng.Loads()[0]
	if track.Live == nil {
		t.Fatal("live relay track must carry a live config")
	}
	if track.Live.TargetOffsetMs != 5000 || track.Live.MaxOffsetMs != 20000 {
		t.Fatalf("live config = %+v", track.Live)
	}
	if track.MIMEType != "application/x-mpegURL" {
		t.Fatalf("mime = %q", track.MIMEType)
	}
}

func TestBehindLiveWindowSelfHeals(t *testing.T) {
	p, eng := newTestPlayer(t)
	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	d := directive(nil, -1)
	d.PlayableURL = "https://svc/api/youtube/hls-proxy?videoId=abc"
	p.Play(p.Supersede(), d)
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })
	prepares := eng.Prepares()

	eng.Fail(engine.ErrBehindLiveWindow)
	waitFor(t, "live edge reseek", func() bool { return eng.LiveEdgeSeeks() == 1 })
	waitFor(t, "re-prepare", func() bool { return eng.Prepares() == prepares+1 })

	// The self-heal must not leak an error into any snapshot.
	if st := p.Status(); st.Error != nil {
		t.Fatalf("status after self-heal carries error %q", *st.Error)
	}
	for len(sub) > 0 {
		if st := <-sub; st.Error != nil {
			t.Fatalf("published status carries error %q", *st.Error)
		}
	}
}

func TestEngineErrorSurfacesOnce(t *testing.T) {
	p, eng := newTestPlayer(t)
	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })
	drain(sub)

	eng.Fail(errors.New("decoder blew up"))

	// Skip any interleaved tick statuses; the error rides exactly one.
	deadline := time.After(3 * time.Second)
	var got models.PlaybackStatus
	for got.Error == nil {
		select {
		case got = <-sub:
		case <-deadline:
			t.Fatal("no error status after engine failure")
		}
	}
	if *got.Error != "decoder blew up" {
		t.Fatalf("status error = %q", *got.Error)
	}

	// The error is one-shot: the next snapshot is clean.
	if st := p.Status(); st.Error != nil {
		t.Fatalf("snapshot still carries error %q", *st.Error)
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	p.Pause()
	waitFor(t, "paused", func() bool { return p.Status().State == "paused" })
	p.Pause()
	waitFor(t, "commands drained", func() bool { return len(p.commands) == 0 })

	if st := p.Status(); st.State != "paused" || st.Playing {
		t.Fatalf("double pause status: %+v", st)
	}
}

func TestStopClearsPlaylist(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Play(p.Supersede(), directive([]string{"https://x/a.mp3", "https://x/b.mp3"}, 0))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })

	p.StopPlayback()
	waitFor(t, "idle", func() bool { return p.Status().State == "idle" })

	st := p.Status()
	if st.Index != -1 || st.CurrentURL != nil || st.HasNext || st.HasPrev {
		t.Fatalf("stop must clear playlist state: %+v", st)
	}
}

func TestSupersededPlayDiscarded(t *testing.T) {
	eng := engine.NewFake()
	p := New(eng)
	p.stepNotify = make(chan struct{}, 64)

	// The play's generation is claimed first (command intake), then a
	// stop arrives while its resolution is still in flight. The stale
	// directive must be discarded on dequeue even though it was
	// enqueued last.
	gen := p.Supersede()
	p.StopPlayback()
	p.Play(gen, directive(nil, -1))

	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "commands drained", func() bool { return len(p.commands) == 0 })
	if loads := eng.Loads(); len(loads) != 0 {
		t.Fatalf("superseded play still loaded %+v", loads)
	}
}

func TestHistoryWrittenOnCompletion(t *testing.T) {
	s := newTestStore(t)
	p, eng := newTestPlayer(t, WithHistory(s))

	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })
	eng.SetDuration(200000)
	eng.SetPosition(200000)

	eng.EndTrack()
	waitFor(t, "history row", func() bool {
		entries, err := s.ListHistory(10)
		return err == nil && len(entries) == 1
	})

	entries, err := s.ListHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	e := entries[0]
	if e.Title != "Track" || e.PlayableURL != "https://cdn.example.com/one.mp3" || e.PositionMs != 200000 {
		t.Fatalf("unexpected history entry: %+v", e)
	}
}

func TestTickWhilePlaying(t *testing.T) {
	p, eng := newTestPlayer(t)
	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	p.Play(p.Supersede(), directive(nil, -1))
	waitFor(t, "playing", func() bool { return p.Status().State == "playing" })
	eng.SetPosition(1234)
	drain(sub)

	// No transitions occur, yet a fresh snapshot must arrive on the tick.
	select {
	case st := <-sub:
		if st.PositionMs != 1234 {
			t.Fatalf("tick position = %d", st.PositionMs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick status while playing")
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate("../../migrations"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func drain(ch chan models.PlaybackStatus) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
