package panda

import "fmt"

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type connEvent int

const (
	evDial connEvent = iota
	evDialOK
	evDialFailed
	evLost
	evClose
)

func (e connEvent) String() string {
	switch e {
	case evDial:
		return "dial"
	case evDialOK:
		return "dial ok"
	case evDialFailed:
		return "dial failed"
	case evLost:
		return "lost"
	case evClose:
		return "close"
	default:
		return "unknown"
	}
}

// next returns the state reached from s on ev
func (s ConnState) next(ev connEvent) (ConnState, error) {
	switch ev {
	case evClose:
		return Disconnected, nil
	case evDial:
		if s == Disconnected || s == Failed {
			return Connecting, nil
		}
	case evDialOK:
		if s == Connecting {
			return Connected, nil
		}
	case evDialFailed:
		if s == Connecting {
			return Failed, nil
		}
	case evLost:
		if s == Connected {
			return Failed, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, ev)
}
