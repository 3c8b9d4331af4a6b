package saga

// OutcomeClass tells the consumption loop what to do with the event.
// Everything except OutcomeTransient is acknowledged; transient outcomes
// leave the event unacked so the transport redelivers it.
type OutcomeClass int

const (
	// OutcomeApplied means a state transition was committed.
	OutcomeApplied OutcomeClass = iota
	// OutcomeRejected is a business rejection (insufficient stock,
	// duplicate reservation); handled, just with a negative answer.
	OutcomeRejected
	// OutcomeNoOp means the work was already done; an idempotent retry.
	OutcomeNoOp
	// OutcomeInvalid marks a malformed event; permanent, never retried.
	OutcomeInvalid
	// OutcomeTransient is an infrastructure failure worth redelivering.
	OutcomeTransient
	// OutcomeFatal marks an invariant violation: acknowledged to break
	// the poison-message loop, flagged for operational review.
	OutcomeFatal
)

func (c OutcomeClass) String() string {
	switch c {
	case OutcomeApplied:
		return "applied"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNoOp:
		return "no-op"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Class OutcomeClass
	Err   error
}

func (o Outcome) Ack() bool {
	return o.Class != OutcomeTransient
}

func Applied() Outcome            { return Outcome{Class: OutcomeApplied} }
func Rejected(err error) Outcome  { return Outcome{Class: OutcomeRejected, Err: err} }
func NoOp() Outcome               { return Outcome{Class: OutcomeNoOp} }
func Invalid(err error) Outcome   { return Outcome{Class: OutcomeInvalid, Err: err} }
func Transient(err error) Outcome { return Outcome{Class: OutcomeTransient, Err: err} }
func Fatal(err error) Outcome     { return Outcome{Class: OutcomeFatal, Err: err} }

// mergeOutcomes folds per-item outcomes of a multi-item order into one
// answer for the transport. Transient dominates so the whole event is
// redelivered (re-processing finished items is a no-op); fatal comes
// next so anomalies are surfaced; otherwise any applied work wins.
func mergeOutcomes(outcomes []Outcome) Outcome {
	if len(outcomes) == 0 {
		return NoOp()
	}

	merged := NoOp()
	for _, o := range outcomes {
		switch o.Class {
		case OutcomeTransient:
			return o
		case OutcomeFatal:
			merged = o
		case OutcomeApplied:
			if merged.Class != OutcomeFatal {
				merged = o
			}
		}
	}

	return merged
}
