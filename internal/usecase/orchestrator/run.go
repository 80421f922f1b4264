package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/flowbot/internal/domain/answer"
)

var transitions = map[answer.State][]answer.State{
	answer.StateReceived:   {answer.StateScoring, answer.StateRetrieving, answer.StateFailed},
	answer.StateScoring:    {answer.StateRetrieving, answer.StateFailed},
	answer.StateRetrieving: {answer.StateGenerating, answer.StateFailed},
	answer.StateGenerating: {answer.StateAssembled, answer.StateFailed},
}

type step struct {
	state answer.State
	at    time.Time
}

// run is the per-request state of one Ask call. Never shared.
type run struct {
	now   func() time.Time
	state answer.State
	steps []step
}

func newRun(now func() time.Time) *run {
	return &run{now: now, state: answer.StateReceived, steps: []step{{answer.StateReceived, now()}}}
}

func (r *run) to(next answer.State) {
	for _, allowed := range transitions[r.state] {
		if allowed == next {
			r.state = next
			r.steps = append(r.steps, step{next, r.now()})
			return
		}
	}
	panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", r.state, next))
}

func (r *run) elapsed() time.Duration {
	return r.steps[len(r.steps)-1].at.Sub(r.steps[0].at)
}

func (r *run) path() string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = string(s.state)
	}
	return strings.Join(names, ">")
}
