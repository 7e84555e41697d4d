package playback

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// VirtualPlayer is a Player without media output. Its position advances
// with the clock while playing.
type VirtualPlayer struct {
	clock clock.Clock

	mu        sync.Mutex
	source    string
	playing   bool
	base      float64
	startedAt time.Time
	duration  float64
}

func NewVirtualPlayer(clk clock.Clock) *VirtualPlayer {
	if clk == nil {
		clk = clock.New()
	}
	return &VirtualPlayer{clock: clk}
}

func (p *VirtualPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.positionLocked()
}

func (p *VirtualPlayer) Duration() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.duration, p.duration > 0
}

// SetDuration sets the media length; zero means unknown.
func (p *VirtualPlayer) SetDuration(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.duration = seconds
}

func (p *VirtualPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.source
}

func (p *VirtualPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.playing
}

func (p *VirtualPlayer) Load(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.source = source
	p.playing = false
	p.base = 0
	p.duration = 0
}

func (p *VirtualPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		return
	}
	p.playing = true
	p.startedAt = p.clock.Now()
}

func (p *VirtualPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = p.positionLocked()
	p.playing = false
}

func (p *VirtualPlayer) Seek(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = clampTime(seconds)
	p.startedAt = p.clock.Now()
}

func (p *VirtualPlayer) positionLocked() float64 {
	pos := p.base
	if p.playing {
		pos += p.clock.Since(p.startedAt).Seconds()
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}
