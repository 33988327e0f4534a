package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	. "github.com/grunted/grunts/internal/logging"
)

// Assessment is one periodic progress summary of the run.
type Assessment struct {
	At        time.Time `json:"at"`
	Summaries []string  `json:"summaries"`
}

// startAssessor schedules the partial-assessment job. Overlapping fires
// are skipped, never queued.
func startAssessor(intervalSeconds int, fn func()) *cron.Cron {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %ds", intervalSeconds), fn)
	if err != nil {
		L_error("orchestrator: assessment schedule invalid", "interval", intervalSeconds, "error", err)
		return c
	}
	c.Start()
	return c
}

// assess records one partial assessment from the current worker statuses.
// It never blocks polling: it reads the same state the pollers write,
// briefly, under the state mutex.
func (o *Orchestrator) assess() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return
	}

	ids := make([]int, 0, len(o.state.Workers))
	for id := range o.state.Workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	a := Assessment{At: time.Now().UTC()}
	for _, id := range ids {
		snap := o.state.Workers[id]
		a.Summaries = append(a.Summaries, fmt.Sprintf(
			"worker %d: %s, iteration %d, best score %d",
			id, snap.Phase, snap.CurrentIteration, snap.BestScore))
	}
	o.state.Assessments = append(o.state.Assessments, a)
	L_info("orchestrator: partial assessment", "workers", len(ids))
}
