// Package models defines the core domain models for the workflow execution runtime.
package models

// Node type identifiers for the built-in executors.
const (
	NodeTypeStart     = "start"
	NodeTypeEnd       = "end"
	NodeTypeHumanTask = "human_task"
	NodeTypeAutomatic = "automatic"
	NodeTypeGateway   = "gateway"
	NodeTypeTimer     = "timer"
	NodeTypeJoin      = "join"
)

// Edge labels understood by the gateway executor.
const (
	EdgeLabelTrue  = "true"
	EdgeLabelFalse = "false"
	EdgeLabelElse  = "else"
)

// Node is a single vertex of a workflow graph.
type Node struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"   validate:"required"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge is a directed connection between two nodes. Label carries the
// gateway branch tag (true/false/else) and is empty for plain edges.
type Edge struct {
	ID     string `json:"id"     validate:"required"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Label  string `json:"label,omitempty"`
}

// Graph is the JSON-encoded shape of a workflow definition.
type Graph struct {
	Nodes []Node `json:"nodes" validate:"required,min=1,dive"`
	Edges []Edge `json:"edges" validate:"dive"`
}

// NodeByID returns the node with the given id, or nil when the id is not
// part of the graph.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}

	return nil
}

// StartNode returns the graph's start node, or nil when none exists.
func (g *Graph) StartNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Type == NodeTypeStart {
			return &g.Nodes[i]
		}
	}

	return nil
}

// OutgoingEdges returns every edge whose source is the given node, in
// definition order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge

	for _, edge := range g.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// IncomingEdges returns every edge whose target is the given node, in
// definition order.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	var in []Edge

	for _, edge := range g.Edges {
		if edge.Target == nodeID {
			in = append(in, edge)
		}
	}

	return in
}

// ConfigString reads a string value from the node config.
func (n *Node) ConfigString(key string) (string, bool) {
	if n.Config == nil {
		return "", false
	}

	value, ok := n.Config[key].(string)

	return value, ok
}
