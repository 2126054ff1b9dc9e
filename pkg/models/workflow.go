package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never matched or executed
	WorkflowStatusActive   WorkflowStatus = "active"   // Matched by the trigger matcher, executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// Workflow is an acyclic directed graph of nodes and edges describing a
// multi-step automation. Repetition is modeled by re-triggering, never by
// graph cycles, so traversal always terminates.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required,oneof=draft active archived"`
	Nodes       []*Node        `json:"nodes"       validate:"required,min=1"`
	Edges       []*Edge        `json:"edges"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	// ErrInvalidWorkflow is returned when graph validation fails.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrNodeNotFound is returned when a node id does not exist in the graph.
	ErrNodeNotFound = errors.New("node not found in workflow")

	// ErrNoMatchingEdge is returned when no outgoing edge matches a branch label.
	ErrNoMatchingEdge = errors.New("no matching outgoing edge")
)

// NodeByID returns the node with the given id.
func (w *Workflow) NodeByID(id string) (*Node, error) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

// EntryNode returns the unique trigger node of the graph.
func (w *Workflow) EntryNode() (*Node, error) {
	var entry *Node

	for _, node := range w.Nodes {
		if node.Kind == NodeKindTrigger {
			if entry != nil {
				return nil, fmt.Errorf("%w: multiple trigger nodes", ErrInvalidWorkflow)
			}

			entry = node
		}
	}

	if entry == nil {
		return nil, fmt.Errorf("%w: no trigger node", ErrInvalidWorkflow)
	}

	return entry, nil
}

// OutgoingEdges returns all edges leaving the given node, in definition order.
func (w *Workflow) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// NextNodeID selects the outgoing edge matching the branch label, falling
// back to the default (unlabeled) edge. An empty return with nil error means
// the node is a leaf and the walk is complete.
func (w *Workflow) NextNodeID(nodeID, branch string) (string, error) {
	edges := w.OutgoingEdges(nodeID)
	if len(edges) == 0 {
		return "", nil
	}

	var fallback *Edge

	for _, edge := range edges {
		if edge.Branch == branch && branch != "" {
			return edge.Target, nil
		}

		if edge.Branch == "" {
			fallback = edge
		}
	}

	if fallback != nil {
		return fallback.Target, nil
	}

	return "", fmt.Errorf("%w: node %s branch %q", ErrNoMatchingEdge, nodeID, branch)
}

// Validate checks graph structure: unique node ids, exactly one trigger node
// as the unique entry point with no incoming edges, edges referencing known
// nodes, and acyclicity.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidWorkflow)
	}

	seen := make(map[string]bool, len(w.Nodes))
	for _, node := range w.Nodes {
		if seen[node.ID] {
			return fmt.Errorf("%w: duplicate node id %s", ErrInvalidWorkflow, node.ID)
		}

		seen[node.ID] = true

		if err := node.Validate(); err != nil {
			return err
		}
	}

	entry, err := w.EntryNode()
	if err != nil {
		return err
	}

	indegree := make(map[string]int, len(w.Nodes))
	for _, edge := range w.Edges {
		if !seen[edge.Source] || !seen[edge.Target] {
			return fmt.Errorf("%w: edge %s references unknown node", ErrInvalidWorkflow, edge.ID)
		}

		indegree[edge.Target]++
	}

	if indegree[entry.ID] > 0 {
		return fmt.Errorf("%w: trigger node has incoming edges", ErrInvalidWorkflow)
	}

	return w.checkAcyclic(indegree)
}

// checkAcyclic runs Kahn's algorithm over the edge list.
func (w *Workflow) checkAcyclic(indegree map[string]int) error {
	queue := make([]string, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	visited := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++

		for _, edge := range w.Edges {
			if edge.Source != current {
				continue
			}

			indegree[edge.Target]--
			if indegree[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}

	if visited != len(w.Nodes) {
		return fmt.Errorf("%w: graph contains a cycle", ErrInvalidWorkflow)
	}

	return nil
}
