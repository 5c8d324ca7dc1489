package trader

import "github.com/yanun0323/errors"

var (
	ErrInvalidStatus = errors.New("invalid trader status")
	ErrUnknownTask   = errors.New("unknown task name")
)

// Status is the trader's lifecycle state.
type Status uint8

const (
	_status_beg Status = iota
	StatusStopped
	StatusSleeping
	StatusRunning
	StatusPaused
	_status_end
)

func (s Status) IsAvailable() bool {
	return s > _status_beg && s < _status_end
}

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusSleeping:
		return "sleeping"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}
