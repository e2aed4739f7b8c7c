package downloader

import "time"

// Outcome classifies a single attempt and, once the retry budget is spent, the
// whole fetch.
type Outcome int

const (
	Success Outcome = iota
	NotFound
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Action is what the fetch loop does after an attempt.
type Action int

const (
	Succeed Action = iota
	Retry
	GiveUp
)

func (a Action) String() string {
	switch a {
	case Succeed:
		return "succeed"
	case Retry:
		return "retry"
	case GiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Decision is returned by Policy.Decide. Delay is only set for Retry.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy bounds the attempts made for a single month.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy makes five attempts starting with a five second pause.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
		MaxDelay:    time.Minute,
	}
}

// Decide returns what to do after the given 1-based attempt ended with
// outcome. NotFound is retried like any other failure because the portal
// answers 404 for files that are being replaced.
func (p Policy) Decide(attempt int, outcome Outcome) Decision {
	if outcome == Success {
		return Decision{Action: Succeed}
	}

	if attempt >= max(p.MaxAttempts, 1) {
		return Decision{Action: GiveUp}
	}

	return Decision{Action: Retry, Delay: p.delay(attempt)}
}

// delayCeiling bounds the delay when MaxDelay is unset.
const delayCeiling = time.Hour

func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}

	limit := p.MaxDelay
	if limit <= 0 {
		limit = delayCeiling
	}

	d := min(p.BaseDelay, limit)
	for i := 1; i < attempt && d < limit; i++ {
		d = min(d*2, limit)
	}

	return d
}
