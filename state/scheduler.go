package state

import (
	"time"
)

// ScheduleTask runs fun once after delay unless the environment is cancelled first
func (e *Env) ScheduleTask(fun func(), delay time.Duration) error {
	t := e.Clock.Timer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		fun()
		return nil
	case <-e.Context.Done():
		return e.Context.Err()
	}
}

// RepeatTask runs fun every delay until the environment is cancelled. The
// first run happens after one full delay.
func (e *Env) RepeatTask(fun func(), delay time.Duration) error {
	t := e.Clock.Ticker(delay)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fun()
		case <-e.Context.Done():
			return e.Context.Err()
		}
	}
}
