package rules

import (
	"encoding/json"
	"fmt"
)

// Kind tags the node variant.
type Kind string

const (
	KindComparison Kind = "comparison"
	KindAnd        Kind = "and"
	KindOr         Kind = "or"
)

// Op enumerates comparison operators on indicator values.
type Op string

const (
	OpGreaterThan  Op = "greater_than"
	OpLessThan     Op = "less_than"
	OpEqual        Op = "equal"
	OpInRange      Op = "in_range"
	OpOutsideRange Op = "outside_range"
	OpCrossesAbove Op = "crosses_above"
	OpCrossesBelow Op = "crosses_below"
)

// Operand is the right-hand side of a comparison: either a fixed number,
// a [lo, hi] range, or the name of another indicator.
type Operand struct {
	Number    *float64
	Range     *[2]float64
	Indicator string
}

// Node is one vertex of a rule tree. Comparison leaves carry the indicator,
// operator and operand; AND/OR interior nodes carry children.
type Node struct {
	Kind      Kind
	ID        string // leaf provenance id
	Indicator string
	Op        Op
	Value     Operand
	Children  []*Node
}

// Validate walks the tree and rejects malformed nodes before any evaluation
// runs. A malformed tree is an operator-correction problem, not a retry.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("nil rule node")
	}
	switch n.Kind {
	case KindAnd, KindOr:
		if len(n.Children) == 0 {
			return fmt.Errorf("%s node has no children", n.Kind)
		}
		for _, c := range n.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	case KindComparison:
		if n.Indicator == "" {
			return fmt.Errorf("comparison %q missing indicator", n.ID)
		}
		switch n.Op {
		case OpGreaterThan, OpLessThan, OpEqual, OpCrossesAbove, OpCrossesBelow:
			if n.Value.Number == nil && n.Value.Indicator == "" {
				return fmt.Errorf("comparison %q needs a numeric or indicator operand", n.ID)
			}
		case OpInRange, OpOutsideRange:
			if n.Value.Range == nil {
				return fmt.Errorf("comparison %q needs a [lo, hi] operand", n.ID)
			}
		default:
			return fmt.Errorf("comparison %q has unknown operator %q", n.ID, n.Op)
		}
		return nil
	}
	return fmt.Errorf("unknown node kind %q", n.Kind)
}

// nodeJSON is the wire form used by the control plane and the YAML loader.
type nodeJSON struct {
	Logic      string          `json:"logic,omitempty" yaml:"logic,omitempty"`
	Conditions []*Node         `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	ID         string          `json:"id,omitempty" yaml:"id,omitempty"`
	Indicator  string          `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	Condition  string          `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value      json.RawMessage `json:"value,omitempty" yaml:"-"`
	YAMLValue  any             `json:"-" yaml:"value,omitempty"`
}

// UnmarshalJSON accepts either {logic, conditions} interior nodes or
// {indicator, condition, value} leaves, matching the dashboard rule format.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Logic != "" || len(raw.Conditions) > 0 {
		switch raw.Logic {
		case "", "AND", "and":
			n.Kind = KindAnd
		case "OR", "or":
			n.Kind = KindOr
		default:
			return fmt.Errorf("unknown logic %q", raw.Logic)
		}
		n.Children = raw.Conditions
		return nil
	}

	n.Kind = KindComparison
	n.ID = raw.ID
	n.Indicator = raw.Indicator
	n.Op = Op(raw.Condition)
	if len(raw.Value) == 0 {
		return nil
	}
	return n.Value.unmarshal(raw.Value)
}

func (o *Operand) unmarshal(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		o.Number = &num
		return nil
	}
	var rng [2]float64
	if err := json.Unmarshal(data, &rng); err == nil {
		o.Range = &rng
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		o.Indicator = name
		return nil
	}
	return fmt.Errorf("unsupported operand %s", string(data))
}

// UnmarshalYAML mirrors the JSON shape for file-loaded strategies.
func (n *Node) UnmarshalYAML(unmarshal func(any) error) error {
	var raw nodeJSON
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.Logic != "" || len(raw.Conditions) > 0 {
		switch raw.Logic {
		case "", "AND", "and":
			n.Kind = KindAnd
		case "OR", "or":
			n.Kind = KindOr
		default:
			return fmt.Errorf("unknown logic %q", raw.Logic)
		}
		n.Children = raw.Conditions
		return nil
	}
	n.Kind = KindComparison
	n.ID = raw.ID
	n.Indicator = raw.Indicator
	n.Op = Op(raw.Condition)
	switch v := raw.YAMLValue.(type) {
	case nil:
	case int:
		f := float64(v)
		n.Value.Number = &f
	case float64:
		f := v
		n.Value.Number = &f
	case string:
		n.Value.Indicator = v
	case []any:
		if len(v) != 2 {
			return fmt.Errorf("range operand needs two values")
		}
		var rng [2]float64
		for i, item := range v {
			switch x := item.(type) {
			case int:
				rng[i] = float64(x)
			case float64:
				rng[i] = x
			default:
				return fmt.Errorf("range operand must be numeric")
			}
		}
		n.Value.Range = &rng
	default:
		return fmt.Errorf("unsupported operand %v", raw.YAMLValue)
	}
	return nil
}
