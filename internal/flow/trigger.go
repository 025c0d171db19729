package flow

import "time"

// maxTriggerCycles bounds the exponential-backoff retransmit timer: once a
// repeatable message has survived this many unanswered cycles, the writer
// gives up on the peer entirely.
const maxTriggerCycles = 8

// trigger is the retransmit backoff timer armed whenever a FlowWriter has
// at least one repeatable message in flight. Each unanswered cycle doubles
// the wait before the next bulk retransmit, up to maxTriggerCycles.
type trigger struct {
	base     time.Duration
	running  bool
	cycle    int
	deadline time.Time
}

func newTrigger(base time.Duration) *trigger {
	return &trigger{base: base}
}

// start arms the trigger if it is not already running; repeated calls
// while already running are no-ops, matching a message queue that keeps
// growing without resetting backoff progress.
func (t *trigger) start(now time.Time) {
	if t.running {
		return
	}
	t.running = true
	t.cycle = 0
	t.deadline = now.Add(t.base)
}

func (t *trigger) stop() {
	t.running = false
	t.cycle = 0
}

// reset restarts the backoff from cycle zero, used whenever an
// acknowledgment advances stage_ack or a retransmission is sent.
func (t *trigger) reset(now time.Time) {
	if !t.running {
		return
	}
	t.cycle = 0
	t.deadline = now.Add(t.base)
}

// raise reports whether the current cycle's deadline has passed. When it
// has, the cycle count advances and the deadline backs off exponentially;
// once cycle exceeds maxTriggerCycles, exhausted is true and the caller
// should close the writer instead of retransmitting again.
func (t *trigger) raise(now time.Time) (fired bool, exhausted bool) {
	if !t.running || now.Before(t.deadline) {
		return false, false
	}
	t.cycle++
	if t.cycle > maxTriggerCycles {
		return false, true
	}
	t.deadline = now.Add(t.base * time.Duration(1<<uint(t.cycle)))
	return true, false
}
