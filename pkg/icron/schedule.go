package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo returns the fire times around refTime for a standard five-field
// expression or a descriptor such as "@daily". Last is zero when the schedule
// did not fire during the year before refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	nextTime := schedule.Next(refTime)

	var prevTime time.Time
	for i := 1; i <= 366*24; i++ {
		candidate := schedule.Next(refTime.Add(-time.Duration(i) * time.Hour))
		if candidate.After(refTime) {
			continue
		}
		// walk forward to the latest fire not after refTime
		for {
			n := schedule.Next(candidate)
			if n.After(refTime) {
				break
			}
			candidate = n
		}
		prevTime = candidate
		break
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}

	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}

	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}
