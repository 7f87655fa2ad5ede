package calls

// Rank orders statuses along the lifecycle. Every terminal status shares the
// highest rank, so a terminal record can never be overwritten by another one.
func (s Status) Rank() int {
	switch s {
	case StatusRinging:
		return 1
	case StatusAnswered:
		return 2
	case StatusConnecting:
		return 3
	case StatusConnected:
		return 4
	case StatusRejected, StatusMissed, StatusBusy, StatusNoAnswer, StatusEnded, StatusFailed:
		return 5
	default:
		return 0
	}
}

func (s Status) Valid() bool { return s.Rank() > 0 }

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool { return s.Rank() == 5 }

// Unanswered reports whether a terminal status means nobody picked up.
func (s Status) Unanswered() bool {
	switch s {
	case StatusMissed, StatusNoAnswer, StatusBusy, StatusRejected:
		return true
	default:
		return false
	}
}

// legal lists the statuses each status may be written from.
var legal = map[Status][]Status{
	StatusAnswered:   {StatusRinging},
	StatusConnecting: {StatusAnswered},
	StatusConnected:  {StatusAnswered, StatusConnecting},
	StatusRejected:   {StatusRinging},
	StatusMissed:     {StatusRinging},
	StatusNoAnswer:   {StatusRinging},
	StatusBusy:       {StatusRinging},
	StatusEnded:      {StatusRinging, StatusAnswered, StatusConnecting, StatusConnected},
	StatusFailed:     {StatusRinging, StatusAnswered, StatusConnecting, StatusConnected},
}

// SourcesFor returns the statuses from which to may be written.
func SourcesFor(to Status) []Status {
	src := legal[to]
	out := make([]Status, len(src))
	copy(out, src)
	return out
}

// CanTransition reports whether from -> to is a legal forward step.
func CanTransition(from, to Status) bool {
	for _, s := range legal[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Supersedes reports whether an observed status should replace the locally
// known one: it must be strictly later in the lifecycle.
func Supersedes(observed, known Status) bool {
	return observed.Rank() > known.Rank()
}
