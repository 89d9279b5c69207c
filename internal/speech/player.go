package speech

import (
	"context"
	"sync"

	"github.com/comigor/parley/internal/logger"
)

// Engine plays one segment at a time. Start must eventually call done
// exactly once; Cancel aborts whatever is playing.
type Engine interface {
	Start(segment string, done func(error))
	Cancel()
}

// Player reads a message aloud segment by segment. The next segment is only
// started from the previous segment's completion callback, so playback is
// strictly sequential.
type Player struct {
	engine Engine
	maxLen int

	mu        sync.Mutex
	gen       uint64 // bumped on every start/stop; stale callbacks compare against it
	active    bool
	messageID string
	queue     []string
	idle      chan struct{}

	// OnChange, when set, is called after playback of a message starts or ends.
	OnChange func(messageID string, speaking bool)
}

// NewPlayer returns an idle player; maxLen <= 0 uses DefaultMaxSegment.
func NewPlayer(engine Engine, maxLen int) *Player {
	if maxLen <= 0 {
		maxLen = DefaultMaxSegment
	}
	return &Player{engine: engine, maxLen: maxLen}
}

// Speak starts reading text for messageID and reports whether playback
// started. Calling it again for the message currently playing stops it
// instead; calling it for another message replaces the current playback.
func (p *Player) Speak(messageID, text string) bool {
	p.mu.Lock()
	previous, stopped := p.messageID, p.active
	if stopped {
		p.stopLocked()
	}
	if stopped && previous == messageID {
		p.mu.Unlock()
		p.notify(previous, false)
		return false
	}

	segments := Segment(text, p.maxLen)
	if len(segments) == 0 {
		p.mu.Unlock()
		if stopped {
			p.notify(previous, false)
		}
		return false
	}

	p.gen++
	gen := p.gen
	p.active = true
	p.messageID = messageID
	p.queue = segments
	p.idle = make(chan struct{})
	logger.L.Debug("speech started", "message_id", messageID, "segments", len(segments))
	p.startNextLocked(gen)
	p.mu.Unlock()

	if stopped {
		p.notify(previous, false)
	}
	p.notify(messageID, true)
	return true
}

// Stop cancels the current segment and drops the rest of the queue.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	id := p.messageID
	p.stopLocked()
	p.mu.Unlock()
	p.notify(id, false)
}

// Speaking reports which message is being read, if any.
func (p *Player) Speaking() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messageID, p.active
}

// Wait blocks until the current playback ends or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	active := p.active
	p.mu.Unlock()
	if !active || idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) stopLocked() {
	p.gen++
	p.resetLocked()
	p.engine.Cancel()
}

func (p *Player) resetLocked() {
	p.active = false
	p.messageID = ""
	p.queue = nil
	if p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
}

// startNextLocked hands the next queued segment to the engine. Completion is
// processed on its own goroutine so engines may call done from inside Start.
func (p *Player) startNextLocked(gen uint64) {
	seg := p.queue[0]
	p.queue = p.queue[1:]
	p.engine.Start(seg, func(err error) {
		go p.finished(gen, err)
	})
}

func (p *Player) finished(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.gen || !p.active {
		p.mu.Unlock()
		return
	}
	id := p.messageID
	if err != nil {
		logger.L.Warn("speech playback failed; abandoning queue", "message_id", id, "error", err)
		p.gen++
		p.resetLocked()
		p.mu.Unlock()
		p.notify(id, false)
		return
	}
	if len(p.queue) == 0 {
		p.resetLocked()
		p.mu.Unlock()
		logger.L.Debug("speech finished", "message_id", id)
		p.notify(id, false)
		return
	}
	p.startNextLocked(gen)
	p.mu.Unlock()
}

func (p *Player) notify(messageID string, speaking bool) {
	if p.OnChange != nil {
		p.OnChange(messageID, speaking)
	}
}
