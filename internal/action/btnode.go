package action

import (
	"fmt"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/ticktree/internal/tree"
)

// Node adapts a go-behaviortree node to a leaf: every poll ticks n once.
// Stateful go-behaviortree nodes (bt.Memorize, bt.Async) keep their own
// state across polls.
func Node(n bt.Node) Action {
	return Func(func(*Context) (tree.Status, error) {
		status, err := n.Tick()
		if err != nil {
			return tree.Failure, err
		}
		return fromBT(status)
	})
}

func fromBT(s bt.Status) (tree.Status, error) {
	switch s {
	case bt.Running:
		return tree.Running, nil
	case bt.Success:
		return tree.Success, nil
	case bt.Failure:
		return tree.Failure, nil
	default:
		return tree.Failure, fmt.Errorf("unexpected behaviortree status %d", int(s))
	}
}

// ToBT converts a leaf result to a go-behaviortree status.
func ToBT(s tree.Status) bt.Status {
	switch s {
	case tree.Running:
		return bt.Running
	case tree.Success:
		return bt.Success
	default:
		return bt.Failure
	}
}
