package domain

type SessionState int

const (
	Connecting SessionState = iota
	Authenticating
	Active
	Closing
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Authenticating:
		return "AUTHENTICATING"
	case Active:
		return "ACTIVE"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TransferState tells whether a connection's read side currently belongs to a file relay.
type TransferState int32

const (
	Idle TransferState = iota
	Transferring
)

func (s TransferState) String() string {
	if s == Transferring {
		return "transferring"
	}
	return "idle"
}
