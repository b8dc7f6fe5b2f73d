package flow

// Action is the outcome label returned by a node's post phase. Flows use it
// to select the successor of the node that produced it.
type Action string

// Default is the action assumed when a post phase returns the empty label.
const Default Action = "default"

// normalize maps the empty action to Default.
func (a Action) normalize() Action {
	if a == "" {
		return Default
	}
	return a
}

// Route describes one routing decision made while walking a flow graph.
// Target is nil when the flow terminates at the current node. Dangling is
// set when the action missed a non-empty successor table, which ends the
// flow with a warning rather than an error.
type Route struct {
	From     string
	Action   Action
	Target   Node
	Matched  bool
	Dangling bool
}

// Resolve looks up the successor of n for the given action. The empty action
// is treated as Default. The returned Route is a plain value so callers can
// assert on routing behavior directly.
func Resolve(n Node, action Action) Route {
	action = action.normalize()
	r := Route{From: n.Name(), Action: action}
	if target, ok := n.Next(action); ok {
		r.Target = target
		r.Matched = true
		return r
	}
	r.Dangling = len(n.Actions()) > 0
	return r
}
