package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last"`
	Expression string    `json:"expression"`

	TimeSinceLast time.Duration `json:"time_since_last"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// lookback bounds the search for the previous trigger.
const lookback = 366 * 24 * time.Hour

// GetTriggerInfo resolves the previous and next activation of a standard
// five field expression (descriptors such as @daily are accepted) around
// refTime. Last is zero when the expression did not fire within a year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastBefore(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// lastBefore widens the window backwards until it holds an activation, then
// walks forward to the latest one not after refTime.
func lastBefore(schedule cron.Schedule, refTime time.Time) time.Time {
	for window := time.Hour; window <= 2*lookback; window *= 2 {
		candidate := schedule.Next(refTime.Add(-window))
		if candidate.IsZero() || candidate.After(refTime) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.IsZero() || next.After(refTime) {
				return candidate
			}
			candidate = next
		}
	}
	return time.Time{}
}
