package trade

import (
	"context"
	"sync"
	"time"

	"github.com/fatflowers/roleguard/internal/platform/plugin"
)

// fakeClock advances instantly and records every wait.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum time.Duration
	for _, w := range c.waits {
		sum += w
	}
	return sum
}

type message struct {
	text   string
	public bool
}

// stubPlugin records calls and fails the methods named in errs.
type stubPlugin struct {
	mu       sync.Mutex
	calls    []string
	errs     map[string]error
	world    int
	statuses []string
	onPoll   func(n int)
	evidence []byte
	messages []message
	polls    int
}

func (p *stubPlugin) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	return p.errs[name]
}

func (p *stubPlugin) called(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (p *stubPlugin) Status(ctx context.Context) error { return p.record("status") }

func (p *stubPlugin) CurrentChannel(ctx context.Context) (int, error) {
	return p.world, p.record("current_channel")
}

func (p *stubPlugin) SwitchChannel(ctx context.Context, world int) error {
	return p.record("switch_channel")
}

func (p *stubPlugin) InitiateContact(ctx context.Context, name string) error {
	return p.record("initiate_contact")
}

func (p *stubPlugin) Offer(ctx context.Context, amount int64) error { return p.record("offer") }

func (p *stubPlugin) Accept(ctx context.Context) error { return p.record("accept") }

func (p *stubPlugin) SessionStatus(ctx context.Context) (plugin.SessionStatus, error) {
	err := p.record("session_status")
	p.mu.Lock()
	n := p.polls
	p.polls++
	st := ""
	if n < len(p.statuses) {
		st = p.statuses[n]
	}
	hook := p.onPoll
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return plugin.SessionStatus{Status: st}, err
}

func (p *stubPlugin) CaptureEvidence(ctx context.Context) ([]byte, error) {
	if err := p.record("capture_evidence"); err != nil {
		return nil, err
	}
	return p.evidence, nil
}

func (p *stubPlugin) SendMessage(ctx context.Context, text string, public bool) error {
	err := p.record("send_message")
	p.mu.Lock()
	p.messages = append(p.messages, message{text: text, public: public})
	p.mu.Unlock()
	return err
}
