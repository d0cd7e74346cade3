package save

import "fmt"

// strategy selects where the shared save flow runs.
type strategy int

const (
	runInline strategy = iota
	runOnOwner
)

func (s strategy) String() string {
	if s == runOnOwner {
		return "owner"
	}
	return "inline"
}

// dispatch is the pure mapping from a context's concurrency type to the
// strategy used to run its save.
func dispatch(t ConcurrencyType) (strategy, error) {
	switch t {
	case Unconfined:
		return runInline, nil
	case MainQueue, PrivateQueue:
		return runOnOwner, nil
	default:
		return runInline, schedulingError(fmt.Errorf("unsupported concurrency type %s", t))
	}
}

func schedulerOf(c Context) (Scheduler, error) {
	sched := c.Scheduler()
	if sched == nil {
		return nil, schedulingError(ErrNoScheduler)
	}
	return sched, nil
}
