package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/platform/plugin"
)

var errRemote = errors.New("remote error")

func newTestOrchestrator(p *stubPlugin, clock *fakeClock) *Orchestrator {
	return NewOrchestrator(p, clock, DefaultTimings(), zap.NewNop().Sugar())
}

func req() Request {
	return Request{TradeID: "t-1", InGameName: "Zezima", Amount: 20_000_000, World: 302}
}

func TestExecute_Success(t *testing.T) {
	clock := newFakeClock()
	p := &stubPlugin{world: 301, statuses: []string{"", "pending", plugin.SessionCompleted}, evidence: []byte("png")}

	res := newTestOrchestrator(p, clock).Execute(context.Background(), req())

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, StateDone, res.Step)
	assert.Equal(t, []byte("png"), res.Evidence)
	assert.Equal(t, []string{
		"status", "current_channel", "switch_channel", "initiate_contact", "offer",
		"session_status", "session_status", "session_status", "capture_evidence",
	}, p.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second}, clock.waits)
}

func TestExecute_SkipsRelocationWhenAlreadyThere(t *testing.T) {
	clock := newFakeClock()
	p := &stubPlugin{world: 302, statuses: []string{plugin.SessionCompleted}}

	res := newTestOrchestrator(p, clock).Execute(context.Background(), req())

	require.True(t, res.Success)
	assert.False(t, p.called("switch_channel"))
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.waits)
}

func TestExecute_ShortCircuitsOnFirstFailure(t *testing.T) {
	tests := []struct {
		name       string
		failing    string
		wantStep   State
		wantReason string
		notCalled  []string
	}{
		{
			name: "connectivity", failing: "status", wantStep: StateConnecting,
			wantReason: ReasonUnavailable, notCalled: []string{"current_channel", "switch_channel"},
		},
		{
			name: "relocation", failing: "switch_channel", wantStep: StateRelocating,
			wantReason: "relocate", notCalled: []string{"initiate_contact"},
		},
		{
			name: "contact", failing: "initiate_contact", wantStep: StateContacting,
			wantReason: "contact", notCalled: []string{"offer", "session_status"},
		},
		{
			name: "offer", failing: "offer", wantStep: StateOffering,
			wantReason: "offer", notCalled: []string{"session_status", "capture_evidence"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPlugin{world: 1, errs: map[string]error{tt.failing: errRemote}}

			res := newTestOrchestrator(p, newFakeClock()).Execute(context.Background(), req())

			assert.False(t, res.Success)
			assert.Equal(t, tt.wantStep, res.Step)
			assert.Contains(t, res.Reason, tt.wantReason)
			for _, c := range tt.notCalled {
				assert.False(t, p.called(c), "%s must not be called after %s failed", c, tt.failing)
			}
		})
	}
}

func TestExecute_TimesOutAfterBoundedWait(t *testing.T) {
	clock := newFakeClock()
	p := &stubPlugin{world: 302}

	res := newTestOrchestrator(p, clock).Execute(context.Background(), req())

	assert.False(t, res.Success)
	assert.Equal(t, StateAwaitingAcceptance, res.Step)
	assert.Equal(t, ReasonTimedOut, res.Reason)
	// 3s window settle plus the 300s acceptance bound
	assert.Equal(t, 303*time.Second, clock.total())
	assert.Equal(t, 61, p.polls)
	assert.False(t, p.called("capture_evidence"))
}

func TestExecute_PollErrorsAreTolerated(t *testing.T) {
	p := &stubPlugin{world: 302, statuses: []string{"", "", plugin.SessionCompleted}}
	p.onPoll = func(n int) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if n == 0 {
			p.errs = map[string]error{"session_status": errRemote}
		} else {
			p.errs = nil
		}
	}

	res := newTestOrchestrator(p, newFakeClock()).Execute(context.Background(), req())
	assert.True(t, res.Success)
}

func TestExecute_DeclinedEndsEarly(t *testing.T) {
	p := &stubPlugin{world: 302, statuses: []string{"pending", plugin.SessionDeclined, plugin.SessionCompleted}}

	res := newTestOrchestrator(p, newFakeClock()).Execute(context.Background(), req())

	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "declined")
	assert.Equal(t, 2, p.polls)
}

func TestExecute_AcceptsOnceWhenAsked(t *testing.T) {
	p := &stubPlugin{world: 302, statuses: []string{sessionAwaitingAccept, sessionAwaitingAccept, plugin.SessionCompleted}}

	res := newTestOrchestrator(p, newFakeClock()).Execute(context.Background(), req())

	require.True(t, res.Success)
	n := 0
	for _, c := range p.calls {
		if c == "accept" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestExecute_EvidenceFailureKeepsSuccess(t *testing.T) {
	p := &stubPlugin{world: 302, statuses: []string{plugin.SessionCompleted}, errs: map[string]error{"capture_evidence": errRemote}}

	res := newTestOrchestrator(p, newFakeClock()).Execute(context.Background(), req())

	assert.True(t, res.Success)
	assert.Nil(t, res.Evidence)
}

func TestExecute_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &stubPlugin{world: 302}
	p.onPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	res := newTestOrchestrator(p, newFakeClock()).Execute(ctx, req())

	assert.False(t, res.Success)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Equal(t, StateAwaitingAcceptance, res.Step)
	assert.Equal(t, 3, p.polls)
}

func TestTimingsFromConfigKeepsDefaultsForUnset(t *testing.T) {
	got := TimingsFromConfig(testConfig(time.Second))
	assert.Equal(t, time.Second, got.PollInterval)
	assert.Equal(t, 5*time.Second, got.RelocateSettle)
	assert.Equal(t, 300*time.Second, got.AcceptanceTimeout)
}
