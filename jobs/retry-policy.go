package jobs

import (
	"errors"
	"time"
)

type StrategyType string

const (
	Constant    StrategyType = "constant"    // 100ms, 100ms, 100ms, 100ms, 100ms
	Linear      StrategyType = "linear"      // 100ms, 200ms, 300ms, 400ms, 500ms
	Exponential StrategyType = "exponential" // 100ms, 200ms, 400ms, 800ms, 1600ms
)

// MaxRetryDelay caps the wait before any single retry.
const MaxRetryDelay = 24 * time.Hour

// RetryPolicy decides when a failed scheduled run is attempted again. The
// zero value never retries.
type RetryPolicy struct {
	Strategy StrategyType // strategy
	Count    int          // maximum count of retries
	Interval string       // base interval for strategy
}

func NewRetryPolicy(strategyType StrategyType, count int, interval string) (RetryPolicy, error) {
	if strategyType != Constant && strategyType != Linear && strategyType != Exponential {
		return RetryPolicy{}, errors.New("invalid strategy type")
	}

	if count <= 0 {
		return RetryPolicy{}, errors.New("count must be greater than zero")
	}

	if interval == "" {
		return RetryPolicy{}, errors.New("missing interval")
	}

	_, err := time.ParseDuration(interval)
	if err != nil {
		return RetryPolicy{}, errors.New("invalid interval")
	}

	return RetryPolicy{
		Strategy: strategyType,
		Count:    count,
		Interval: interval,
	}, nil
}

// Delay returns how long to wait before retry number attempt, or false once
// the policy is exhausted.
func (rp RetryPolicy) Delay(attempt int) (time.Duration, bool) {
	if rp == (RetryPolicy{}) || attempt > rp.Count || attempt <= 0 {
		return 0, false
	}

	d, err := time.ParseDuration(rp.Interval)
	if err != nil {
		return 0, false
	}

	switch rp.Strategy {
	case Constant:
		return min(d, MaxRetryDelay), true
	case Linear:
		if d > MaxRetryDelay/time.Duration(attempt) {
			return MaxRetryDelay, true
		}
		return d * time.Duration(attempt), true
	case Exponential:
		for range attempt - 1 {
			if d >= MaxRetryDelay/2 {
				return MaxRetryDelay, true
			}
			d *= 2
		}
		return min(d, MaxRetryDelay), true
	default:
		return 0, false
	}
}
