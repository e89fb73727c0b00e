// Package mpv adapts a spawned mpv process to the engine capability.
// mpv runs idle with a JSON IPC socket; we push loadfile/pause/seek
// commands and watch property changes and end-file events.
package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"playbackd/internal/engine"
)

const dialRetries = 50
const dialRetryDelay = 100 * time.Millisecond

type command struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id,omitempty"`
}

type message struct {
	Event  string          `json:"event,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Name   string          `json:"name,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type Engine struct {
	cmd    *exec.Cmd
	sock   string
	events chan engine.Event

	connMu sync.Mutex
	conn   net.Conn
	reqID  int64

	mu       sync.Mutex
	phase    engine.Phase
	playing  bool
	position int64 // ms
	duration int64 // ms
	loaded   bool

	done chan struct{}
}

var _ engine.Engine = (*Engine)(nil)

// New spawns mpv (binary at path, or "mpv" when empty) and connects to
// its IPC socket.
func New(path string) (*Engine, error) {
	if path == "" {
		path = "mpv"
	}
	sock := filepath.Join(os.TempDir(), fmt.Sprintf("playbackd-mpv-%d.sock", os.Getpid()))

	// Audio-only, silent, idle so the process outlives individual tracks.
	cmd := exec.Command(path,
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--really-quiet",
		"--input-ipc-server="+sock,
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	// Own process group so shutdown can take the whole tree down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting mpv: %w", err)
	}

	e := &Engine{
		cmd:    cmd,
		sock:   sock,
		events: make(chan engine.Event, 64),
		phase:  engine.PhaseIdle,
		done:   make(chan struct{}),
	}

	conn, err := dialRetry(sock)
	if err != nil {
		e.killProcess()
		return nil, fmt.Errorf("connecting to mpv ipc: %w", err)
	}
	e.conn = conn

	go e.readLoop()

	for _, prop := range []string{"time-pos", "duration", "pause", "paused-for-cache"} {
		if err := e.send("observe_property", 1, prop); err != nil {
			e.Close()
			return nil, fmt.Errorf("observing %s: %w", prop, err)
		}
	}
	return e, nil
}

func dialRetry(sock string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < dialRetries; i++ {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(dialRetryDelay)
	}
	return nil, lastErr
}

func (e *Engine) Load(t engine.Track) error {
	opts := ""
	if t.Live != nil {
		// mpv tracks the live edge itself; size the cache to the allowed
		// lag so short stalls don't drop the stream.
		opts = fmt.Sprintf("cache=yes,cache-secs=%d", max(t.Live.MaxOffsetMs/1000, 1))
	}
	e.mu.Lock()
	e.loaded = true
	e.position = 0
	e.duration = 0
	e.mu.Unlock()
	if opts != "" {
		return e.send("loadfile", t.URI, "replace", opts)
	}
	return e.send("loadfile", t.URI, "replace")
}

// Prepare is a no-op for mpv: loadfile already begins demuxing. The
// buffering phase is reported when mpv pauses for cache.
func (e *Engine) Prepare() error {
	e.setPhase(engine.PhaseBuffering)
	return nil
}

func (e *Engine) Play() error {
	return e.send("set_property", "pause", false)
}

func (e *Engine) Pause() error {
	return e.send("set_property", "pause", true)
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
	return e.send("stop")
}

func (e *Engine) Seek(positionMs int64) error {
	return e.send("seek", float64(positionMs)/1000.0, "absolute")
}

func (e *Engine) SeekToLiveEdge() error {
	return e.send("seek", 100, "absolute-percent")
}

func (e *Engine) Position() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *Engine) Duration() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *Engine) Phase() engine.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) Events() <-chan engine.Event { return e.events }

func (e *Engine) Close() error {
	select {
	case <-e.done:
		return nil
	default:
	}
	close(e.done)
	_ = e.send("quit")
	e.connMu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.connMu.Unlock()
	e.killProcess()
	_ = os.Remove(e.sock)
	return nil
}

func (e *Engine) killProcess() {
	if e.cmd == nil || e.cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(e.cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}
	_ = e.cmd.Process.Kill()
	_ = e.cmd.Wait()
}

func (e *Engine) send(args ...any) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("mpv ipc not connected")
	}
	e.reqID++
	payload, err := json.Marshal(command{Command: args, RequestID: e.reqID})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := e.conn.Write(payload); err != nil {
		return fmt.Errorf("writing to mpv ipc: %w", err)
	}
	return nil
}

func (e *Engine) readLoop() {
	scanner := bufio.NewScanner(e.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		e.handle(msg)
	}
	select {
	case <-e.done:
	default:
		log.Printf("mpv: ipc connection lost")
		e.emit(engine.Event{Err: fmt.Errorf("mpv ipc connection lost")})
	}
}

func (e *Engine) handle(msg message) {
	switch msg.Event {
	case "file-loaded":
		e.setPhase(engine.PhaseReady)
	case "playback-restart":
		e.setPhase(engine.PhaseReady)
		e.emit(engine.Event{Discontinuity: true})
	case "end-file":
		e.mu.Lock()
		wasLoaded := e.loaded
		e.loaded = false
		e.mu.Unlock()
		switch msg.Reason {
		case "eof":
			e.setPhase(engine.PhaseEnded)
		case "error":
			e.emit(engine.Event{Err: fmt.Errorf("mpv playback error")})
			e.setPhase(engine.PhaseIdle)
		default:
			// stop, quit, redirect: only report idle if we didn't
			// initiate the unload ourselves.
			if wasLoaded {
				e.setPhase(engine.PhaseIdle)
			}
		}
	case "property-change":
		e.handleProperty(msg)
	}
}

func (e *Engine) handleProperty(msg message) {
	switch msg.Name {
	case "time-pos":
		var sec float64
		if json.Unmarshal(msg.Data, &sec) == nil {
			e.mu.Lock()
			e.position = int64(sec * 1000)
			e.mu.Unlock()
		}
	case "duration":
		var sec float64
		if json.Unmarshal(msg.Data, &sec) == nil {
			e.mu.Lock()
			e.duration = int64(sec * 1000)
			e.mu.Unlock()
		}
	case "pause":
		var paused bool
		if json.Unmarshal(msg.Data, &paused) == nil {
			e.setPlaying(!paused)
		}
	case "paused-for-cache":
		var stalled bool
		if json.Unmarshal(msg.Data, &stalled) == nil && stalled {
			e.setPhase(engine.PhaseBuffering)
		}
	}
}

func (e *Engine) setPhase(p engine.Phase) {
	e.mu.Lock()
	changed := e.phase != p
	e.phase = p
	e.mu.Unlock()
	if changed {
		phase := p
		e.emit(engine.Event{Phase: &phase})
	}
}

func (e *Engine) setPlaying(playing bool) {
	e.mu.Lock()
	hasTrack := e.loaded
	changed := e.playing != playing
	e.playing = playing && hasTrack
	e.mu.Unlock()
	if changed && hasTrack {
		v := playing
		e.emit(engine.Event{Playing: &v})
	}
}

func (e *Engine) emit(ev engine.Event) {
	select {
	case e.events <- ev:
	default:
		// Receiver fell behind; drop rather than stall the ipc reader.
	}
}
