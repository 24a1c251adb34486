package mailbox

// State is the listener connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	default:
		return "disconnected"
	}
}
