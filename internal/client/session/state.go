package session

type State int

const (
	Idle State = iota
	Loading
	Live
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}
