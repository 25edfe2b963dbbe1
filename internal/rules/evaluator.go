package rules

import (
	"fmt"
	"math"

	"executor-core/internal/indicators"
)

// Result reports the outcome of one rule-tree evaluation with provenance of
// which comparison leaves matched.
type Result struct {
	Matched        bool
	MatchedLeafIDs []string
}

// Evaluate walks the tree against an indicator snapshot. A leaf whose
// indicator has no ready value evaluates to false; a leaf referencing an
// unknown indicator or operator is an error (the strategy faults rather than
// trading on garbage).
func Evaluate(n *Node, snap *indicators.Snapshot) (Result, error) {
	res := Result{}
	matched, err := walk(n, snap, &res)
	if err != nil {
		return Result{}, err
	}
	res.Matched = matched
	return res, nil
}

func walk(n *Node, snap *indicators.Snapshot, res *Result) (bool, error) {
	switch n.Kind {
	case KindAnd:
		all := true
		for _, c := range n.Children {
			ok, err := walk(c, snap, res)
			if err != nil {
				return false, err
			}
			// keep walking so provenance covers every matched leaf
			all = all && ok
		}
		return all, nil
	case KindOr:
		any := false
		for _, c := range n.Children {
			ok, err := walk(c, snap, res)
			if err != nil {
				return false, err
			}
			any = any || ok
		}
		return any, nil
	case KindComparison:
		ok, err := evalLeaf(n, snap)
		if err != nil {
			return false, err
		}
		if ok && n.ID != "" {
			res.MatchedLeafIDs = append(res.MatchedLeafIDs, n.ID)
		}
		return ok, nil
	}
	return false, fmt.Errorf("unknown node kind %q", n.Kind)
}

func evalLeaf(n *Node, snap *indicators.Snapshot) (bool, error) {
	left, leftOK, err := snap.Last(n.Indicator)
	if err != nil {
		return false, err
	}

	switch n.Op {
	case OpCrossesAbove, OpCrossesBelow:
		leftPrev, leftPrevOK, err := snap.Prev(n.Indicator)
		if err != nil {
			return false, err
		}
		right, rightPrev, rightOK, err := operandPair(n, snap)
		if err != nil {
			return false, err
		}
		if !leftOK || !leftPrevOK || !rightOK {
			return false, nil
		}
		if n.Op == OpCrossesAbove {
			return leftPrev <= rightPrev && left > right, nil
		}
		return leftPrev >= rightPrev && left < right, nil

	case OpInRange, OpOutsideRange:
		if !leftOK {
			return false, nil
		}
		lo, hi := n.Value.Range[0], n.Value.Range[1]
		inside := lo <= left && left <= hi
		if n.Op == OpInRange {
			return inside, nil
		}
		return !inside, nil

	case OpGreaterThan, OpLessThan, OpEqual:
		right, _, rightOK, err := operandPair(n, snap)
		if err != nil {
			return false, err
		}
		if !leftOK || !rightOK {
			return false, nil
		}
		switch n.Op {
		case OpGreaterThan:
			return left > right, nil
		case OpLessThan:
			return left < right, nil
		default:
			return math.Abs(left-right) < 1e-9, nil
		}
	}
	return false, fmt.Errorf("unknown operator %q", n.Op)
}

// operandPair resolves the right-hand side now and one step back. Fixed
// numbers have no history so both values coincide.
func operandPair(n *Node, snap *indicators.Snapshot) (cur, prev float64, ok bool, err error) {
	if n.Value.Indicator != "" {
		cur, curOK, err := snap.Last(n.Value.Indicator)
		if err != nil {
			return 0, 0, false, err
		}
		prev, prevOK, err := snap.Prev(n.Value.Indicator)
		if err != nil {
			return 0, 0, false, err
		}
		return cur, prev, curOK && prevOK, nil
	}
	if n.Value.Number != nil {
		return *n.Value.Number, *n.Value.Number, true, nil
	}
	return 0, 0, false, fmt.Errorf("comparison %q missing operand", n.ID)
}

// RequiredIndicators lists every indicator name the tree touches, used for
// snapshot pre-warming and definition validation.
func RequiredIndicators(n *Node) []string {
	seen := make(map[string]struct{})
	collect(n, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

func collect(n *Node, seen map[string]struct{}) {
	if n == nil {
		return
	}
	if n.Kind == KindComparison {
		if n.Indicator != "" {
			seen[n.Indicator] = struct{}{}
		}
		if n.Value.Indicator != "" {
			seen[n.Value.Indicator] = struct{}{}
		}
		return
	}
	for _, c := range n.Children {
		collect(c, seen)
	}
}
