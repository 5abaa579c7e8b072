package checkout

import (
	"errors"
	"time"
)

// Schedule is the polling cadence of a session. After a reference is obtained the
// first check waits GracePeriod so the prompt can reach the handset, the next
// ShortIntervalCount checks run ShortInterval apart and the remainder LongInterval
// apart, up to MaxAttempts checks in total.
type Schedule struct {
	GracePeriod            time.Duration
	ShortInterval          time.Duration
	ShortIntervalCount     int
	LongInterval           time.Duration
	MaxAttempts            int
	AdvisoryErrorThreshold int

	ProgressTarget time.Duration
	ProgressTick   time.Duration
}

func DefaultSchedule() Schedule {
	return Schedule{
		GracePeriod:            10 * time.Second,
		ShortInterval:          5 * time.Second,
		ShortIntervalCount:     6,
		LongInterval:           10 * time.Second,
		MaxAttempts:            30,
		AdvisoryErrorThreshold: 3,
		ProgressTarget:         2 * time.Minute,
		ProgressTick:           time.Second,
	}
}

func (s Schedule) Validate() error {
	switch {
	case s.GracePeriod < 0:
		return errors.New("grace period must not be negative")
	case s.ShortInterval <= 0 || s.LongInterval <= 0:
		return errors.New("poll intervals must be positive")
	case s.ShortIntervalCount < 0:
		return errors.New("short interval count must not be negative")
	case s.MaxAttempts < 1:
		return errors.New("max attempts must be at least one")
	case s.AdvisoryErrorThreshold < 1:
		return errors.New("advisory error threshold must be at least one")
	case s.ProgressTarget <= 0 || s.ProgressTick <= 0:
		return errors.New("progress target and tick must be positive")
	}
	return nil
}

// Delay returns how long to wait before status check number attempt (1-based).
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return s.GracePeriod
	}
	if attempt-1 <= s.ShortIntervalCount {
		return s.ShortInterval
	}
	return s.LongInterval
}
