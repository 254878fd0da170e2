package tree

import "fmt"

// Status is the lifecycle state of a node. The cursor is tracked separately
// (Node.Cursor) and may coexist with Running, Success or Failure.
//
// A node holding the cursor with Success or Failure has completed during the
// previous evaluation phase and is waiting for propagation. Once propagated,
// the cursor is cleared and the result stays readable by the parent until the
// node is reset.
type Status uint8

const (
	// Idle nodes carry no markers.
	Idle Status = iota
	// Running nodes have been started and have not resolved yet.
	Running
	// Success is a resolved, successful outcome.
	Success
	// Failure is a resolved, failed outcome.
	Failure
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Done reports whether s is Success or Failure.
func (s Status) Done() bool {
	return s == Success || s == Failure
}
