package moqt

// SessionState is the lifecycle state of a Session.
type SessionState uint8

const (
	StateIdle SessionState = iota
	StateSetupSent
	StateSetupReceived
	StateEstablished
	StateClosing
	StateClosed
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetupSent:
		return "setup sent"
	case StateSetupReceived:
		return "setup received"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s SessionState) terminal() bool {
	return s == StateClosed || s == StateErrored
}
