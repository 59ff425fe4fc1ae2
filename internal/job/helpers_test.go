package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"OpenMCP-Orchestrator/internal/agent"
	"OpenMCP-Orchestrator/internal/observability/alerting"
)

type fakeEngine struct {
	mu      sync.Mutex
	active  map[string]int
	maxSeen int
	calls   atomic.Int32
	latency time.Duration
	run     func(call int32, threadID, request string) (*agent.Outcome, error)
	resume  func(threadID string, input agent.ResumeInput) (*agent.Outcome, error)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{active: make(map[string]int)}
}

func (f *fakeEngine) enter(threadID string) func() {
	f.mu.Lock()
	f.active[threadID]++
	if f.active[threadID] > f.maxSeen {
		f.maxSeen = f.active[threadID]
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.active[threadID]--
		f.mu.Unlock()
	}
}

func (f *fakeEngine) Run(ctx context.Context, threadID, request string) (*agent.Outcome, error) {
	defer f.enter(threadID)()
	n := f.calls.Add(1)
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.run != nil {
		return f.run(n, threadID, request)
	}
	return &agent.Outcome{ThreadID: threadID, Status: agent.StatusCompleted, Answer: "done: " + request}, nil
}

func (f *fakeEngine) Resume(_ context.Context, threadID string, input agent.ResumeInput) (*agent.Outcome, error) {
	defer f.enter(threadID)()
	f.calls.Add(1)
	if f.resume != nil {
		return f.resume(threadID, input)
	}
	return &agent.Outcome{ThreadID: threadID, Status: agent.StatusCompleted, Answer: "resumed: " + input.ExternalInput}, nil
}

func (f *fakeEngine) highWater() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerts) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}
