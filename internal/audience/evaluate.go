package audience

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Attributes exposes recipient fields by name.
type Attributes interface {
	Attr(name string) (string, bool)
}

// Matcher evaluates rule trees. Malformed nodes never match and are logged.
type Matcher struct {
	log *zap.Logger
}

func NewMatcher(log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{log: log}
}

// Matches reports whether attrs satisfy the tree. A nil tree matches
// everyone.
func (m *Matcher) Matches(tree *Node, attrs Attributes) bool {
	if tree == nil {
		return true
	}
	return m.eval(*tree, attrs)
}

func (m *Matcher) eval(n Node, attrs Attributes) bool {
	switch n.Kind {
	case KindGroup:
		return m.group(n, attrs)
	case KindLeaf:
		return m.leaf(n, attrs)
	default:
		m.log.Warn("audience rule node has unknown kind", zap.String("kind", string(n.Kind)))
		return false
	}
}

func (m *Matcher) group(n Node, attrs Attributes) bool {
	switch n.Operator {
	case LogicAnd:
		for _, c := range n.Children {
			if !m.eval(c, attrs) {
				return false
			}
		}
		return true
	case LogicOr:
		for _, c := range n.Children {
			if m.eval(c, attrs) {
				return true
			}
		}
		return false
	default:
		m.log.Warn("audience rule group has unknown operator", zap.String("operator", n.Operator))
		return false
	}
}

func (m *Matcher) leaf(n Node, attrs Attributes) bool {
	if strings.TrimSpace(n.Field) == "" {
		m.log.Warn("audience rule leaf has no field", zap.String("operator", n.Operator))
		return false
	}
	raw, ok := attrs.Attr(n.Field)
	val := normalize(raw)
	want := normalize(n.Value)

	switch n.Operator {
	case OpIsEmpty:
		return !ok || val == ""
	case OpIsNotEmpty:
		return ok && val != ""
	case OpNotEquals:
		return !ok || val != want
	case OpNotContains:
		return !ok || !strings.Contains(val, want)
	case OpNotIn:
		return !ok || !contains(n.Values, val)
	}

	if !ok {
		return false
	}
	switch n.Operator {
	case OpEquals:
		return val == want
	case OpContains:
		return strings.Contains(val, want)
	case OpStartsWith:
		return strings.HasPrefix(val, want)
	case OpEndsWith:
		return strings.HasSuffix(val, want)
	case OpIn:
		return contains(n.Values, val)
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		return m.compare(n, raw)
	default:
		m.log.Warn("audience rule leaf has unknown operator",
			zap.String("field", n.Field), zap.String("operator", n.Operator))
		return false
	}
}

func (m *Matcher) compare(n Node, raw string) bool {
	got, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return false
	}
	want, err := strconv.ParseFloat(strings.TrimSpace(n.Value), 64)
	if err != nil {
		m.log.Warn("audience rule value is not numeric",
			zap.String("field", n.Field), zap.String("value", n.Value))
		return false
	}
	switch n.Operator {
	case OpGreater:
		return got > want
	case OpGreaterEq:
		return got >= want
	case OpLess:
		return got < want
	default:
		return got <= want
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if normalize(item) == v {
			return true
		}
	}
	return false
}
