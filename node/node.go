// Copyright 2026 The Keybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package node implements the hierarchical command processor the agent
// serves over its protocol sessions: a tree of nodes, each exposing
// named actions and named child nodes. A command's target path selects
// a node by walking child names from the root; the command's action
// then runs against that node. Every node answers the built-in "get"
// action with its descriptive data and the names of its children and
// actions, so a front-end can discover the tree at runtime.
//
// Trees are assembled once at startup and are read-only afterwards,
// which is what makes them safe to share across session goroutines.
package node

import (
	"fmt"
	"slices"

	"github.com/keybridge-labs/keybridge/rpc"
)

// sortedKeys returns a map's keys in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Statuses for failures raised by tree traversal and parameter
// validation. Front-ends match on these to distinguish "you addressed
// something that is not there" from "the device said no".
const (
	// StatusNoSuchNode reports a target path naming a child that does
	// not exist.
	StatusNoSuchNode = "no-such-node"

	// StatusNoSuchAction reports an action the addressed node does not
	// offer.
	StatusNoSuchAction = "no-such-action"

	// StatusInvalidParameters reports a command body that an action
	// could not use: a missing parameter or one of the wrong type.
	StatusInvalidParameters = "invalid-parameters"
)

// ActionFunc executes one action against the node it is registered
// on. params is the command body; token and emit are the invocation's
// cancellation token and progress channel, passed through from the
// session loop.
type ActionFunc func(params map[string]any, token *rpc.CancelToken, emit rpc.SignalFunc) (any, error)

// DataFunc supplies a node's descriptive state for the "get" action.
type DataFunc func() (map[string]any, error)

// Node is one level of the command hierarchy.
type Node struct {
	description string
	children    map[string]*Node
	actions     map[string]ActionFunc
	data        DataFunc
}

// New returns an empty node. The description appears in the node's
// "get" output.
func New(description string) *Node {
	return &Node{
		description: description,
		children:    map[string]*Node{},
		actions:     map[string]ActionFunc{},
	}
}

// Child registers a child node under the given name. Panics on a
// duplicate name: trees are assembled at startup and a duplicate is a
// wiring bug.
func (n *Node) Child(name string, child *Node) {
	if _, exists := n.children[name]; exists {
		panic(fmt.Sprintf("node: duplicate child %q", name))
	}
	n.children[name] = child
}

// Action registers an action under the given name. Panics on a
// duplicate name. Registering "get" replaces the built-in
// introspection action for this node.
func (n *Node) Action(name string, fn ActionFunc) {
	if _, exists := n.actions[name]; exists {
		panic(fmt.Sprintf("node: duplicate action %q", name))
	}
	n.actions[name] = fn
}

// Data sets the function supplying the node's descriptive state for
// the built-in "get" action.
func (n *Node) Data(fn DataFunc) {
	n.data = fn
}

// Handle walks the target path from this node and runs the action on
// the addressed node. Traversal failures carry [StatusNoSuchNode] or
// [StatusNoSuchAction]; everything else is the action's own outcome.
func (n *Node) Handle(action string, target []string, body map[string]any, token *rpc.CancelToken, emit rpc.SignalFunc) (any, error) {
	if len(target) > 0 {
		child, ok := n.children[target[0]]
		if !ok {
			return nil, NoSuchNode(target[0])
		}
		return child.Handle(action, target[1:], body, token, emit)
	}

	if fn, ok := n.actions[action]; ok {
		return fn(body, token, emit)
	}
	if action == "get" {
		return n.describe()
	}
	return nil, NoSuchAction(action)
}

// Handler adapts the tree to the session loop's handler contract.
func (n *Node) Handler() rpc.Handler {
	return func(action string, target []string, body map[string]any, token *rpc.CancelToken, emit rpc.SignalFunc) (any, error) {
		return n.Handle(action, target, body, token, emit)
	}
}

// describe implements the built-in "get" action: descriptive data plus
// sorted child and action names, so front-ends see a stable listing.
func (n *Node) describe() (any, error) {
	data := map[string]any{}
	if n.data != nil {
		supplied, err := n.data()
		if err != nil {
			return nil, err
		}
		if supplied != nil {
			data = supplied
		}
	}

	actions := sortedKeys(n.actions)
	if _, overridden := n.actions["get"]; !overridden {
		actions = append(actions, "get")
		slices.Sort(actions)
	}

	return map[string]any{
		"description": n.description,
		"data":        data,
		"children":    sortedKeys(n.children),
		"actions":     actions,
	}, nil
}

// NoSuchNode returns the structured failure for a target path segment
// that does not exist.
func NoSuchNode(name string) *rpc.Error {
	return rpc.NewError(StatusNoSuchNode, fmt.Sprintf("no child node %q", name)).
		WithBody(map[string]any{"name": name})
}

// NoSuchAction returns the structured failure for an action the
// addressed node does not offer.
func NoSuchAction(name string) *rpc.Error {
	return rpc.NewError(StatusNoSuchAction, fmt.Sprintf("no action %q", name)).
		WithBody(map[string]any{"name": name})
}
