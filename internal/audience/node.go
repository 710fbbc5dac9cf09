// Package audience evaluates campaign audience rules against recipient
// attributes.
package audience

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags a Node as a leaf predicate or a boolean group.
type Kind string

const (
	KindLeaf  Kind = "leaf"
	KindGroup Kind = "group"
)

// Group operators.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Leaf operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpGreater     = "gt"
	OpGreaterEq   = "gte"
	OpLess        = "lt"
	OpLessEq      = "lte"
)

// Node is one element of a rule tree. Leaf nodes use Field, Operator and
// Value (or Values for in/not_in). Group nodes use Operator (and/or) and
// Children.
type Node struct {
	Kind     Kind     `json:"kind"`
	Field    string   `json:"field,omitempty"`
	Operator string   `json:"operator"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
	Children []Node   `json:"children,omitempty"`
}

// Leaf builds a leaf predicate.
func Leaf(field, op, value string) Node {
	return Node{Kind: KindLeaf, Field: field, Operator: op, Value: value}
}

// LeafIn builds an in/not_in leaf.
func LeafIn(field, op string, values ...string) Node {
	return Node{Kind: KindLeaf, Field: field, Operator: op, Values: values}
}

func And(children ...Node) Node {
	return Node{Kind: KindGroup, Operator: LogicAnd, Children: children}
}

func Or(children ...Node) Node {
	return Node{Kind: KindGroup, Operator: LogicOr, Children: children}
}

// rawNode mirrors the stored shape, where kind is optional and value may be
// a string, a number, a bool or a list.
type rawNode struct {
	Kind     Kind            `json:"kind"`
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
	Values   []string        `json:"values"`
	Children []rawNode       `json:"children"`
}

// UnmarshalJSON accepts both {"field","operator","value"} leaves and
// {"operator":"and","children":[...]} groups, inferring Kind when absent.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	node, err := raw.node()
	if err != nil {
		return err
	}
	*n = node
	return nil
}

func (r rawNode) node() (Node, error) {
	n := Node{
		Kind:     r.Kind,
		Field:    r.Field,
		Operator: strings.ToLower(strings.TrimSpace(r.Operator)),
		Values:   r.Values,
	}
	if n.Kind == "" {
		if r.Children != nil || n.Operator == LogicAnd || n.Operator == LogicOr {
			n.Kind = KindGroup
		} else {
			n.Kind = KindLeaf
		}
	}
	if len(r.Value) > 0 && !bytes.Equal(r.Value, []byte("null")) {
		switch r.Value[0] {
		case '"':
			if err := json.Unmarshal(r.Value, &n.Value); err != nil {
				return Node{}, err
			}
		case '[':
			var list []any
			if err := json.Unmarshal(r.Value, &list); err != nil {
				return Node{}, err
			}
			for _, v := range list {
				n.Values = append(n.Values, fmt.Sprint(v))
			}
		default:
			n.Value = string(r.Value)
		}
	}
	for _, c := range r.Children {
		child, err := c.node()
		if err != nil {
			return Node{}, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// ParseJSON decodes a stored rule tree. Empty input yields nil (match all).
func ParseJSON(data []byte) (*Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("{}")) {
		return nil, nil
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode audience rule: %w", err)
	}
	return &n, nil
}
