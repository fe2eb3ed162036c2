package expr

import (
	"strconv"

	"github.com/dreamware/keystore/internal/avalue"
)

// EvaluationError is raised when a condition or update cannot be evaluated
// against a concrete item, per spec §4.1.
type EvaluationError struct {
	Subtype string // UnresolvedName, TypeMismatch, UnknownFunction
	Message string
}

func (e *EvaluationError) Error() string { return e.Subtype + ": " + e.Message }

func evalErr(subtype, message string) *EvaluationError {
	return &EvaluationError{Subtype: subtype, Message: message}
}

// EvaluationContext threads the current item (possibly nil, meaning the
// item does not exist) and the name/value placeholder substitution maps
// through condition and update evaluation.
type EvaluationContext struct {
	Item   map[string]avalue.Value // nil means "item does not exist"
	Names  map[string]string       // keyed by "#ident"
	Values map[string]avalue.Value // keyed by ":ident"
}

func (c *EvaluationContext) resolveName(seg PathSegment) string {
	if !seg.IsPlaceholder {
		return seg.Name
	}
	if real, ok := c.Names["#"+seg.Name]; ok {
		return real
	}
	// Unresolved name placeholders keep the '#' prefix and therefore never
	// match an attribute (spec §4.1).
	return "#" + seg.Name
}

func (c *EvaluationContext) resolveValue(name string) avalue.Value {
	if v, ok := c.Values[":"+name]; ok {
		return v
	}
	return avalue.Undefined
}

// resolvePath walks a path against the current item, returning the value
// found and whether every segment resolved to a present attribute.
func (c *EvaluationContext) resolvePath(p Path) (avalue.Value, bool) {
	if c.Item == nil {
		return avalue.Value{}, false
	}
	var cur avalue.Value
	cur = avalue.M(c.Item)
	for i, seg := range p.Segments {
		name := c.resolveName(seg)
		if i == 0 {
			v, ok := c.Item[name]
			if !ok {
				return avalue.Value{}, false
			}
			cur = v
		} else {
			if cur.Kind != avalue.KindM {
				return avalue.Value{}, false
			}
			v, ok := cur.Map[name]
			if !ok {
				return avalue.Value{}, false
			}
			cur = v
		}
		if seg.Index != nil {
			if cur.Kind != avalue.KindL || *seg.Index < 0 || *seg.Index >= len(cur.List) {
				return avalue.Value{}, false
			}
			cur = cur.List[*seg.Index]
		}
	}
	return cur, true
}

func (c *EvaluationContext) resolveOperand(op Operand) avalue.Value {
	switch {
	case op.Path != nil:
		v, ok := c.resolvePath(*op.Path)
		if !ok {
			return avalue.Undefined
		}
		return v
	case op.ValueName != "":
		return c.resolveValue(op.ValueName)
	case op.Size != nil:
		v, ok := c.resolvePath(*op.Size)
		if !ok {
			return avalue.Undefined
		}
		n, ok := avalue.Size(v)
		if !ok {
			return avalue.Undefined
		}
		return avalue.N(strconv.Itoa(n))
	case op.Literal != nil:
		if op.Literal.IsString {
			return avalue.S(op.Literal.Text)
		}
		return avalue.N(op.Literal.Text)
	default:
		return avalue.Undefined
	}
}

// Eval evaluates a condition AST node against ctx, returning the boolean
// result. Evaluation is pure: the same (node, ctx) always yields the same
// result, and it never suspends.
func Eval(node CondNode, ctx *EvaluationContext) (bool, error) {
	switch n := node.(type) {
	case OrExpr:
		l, err := Eval(n.Left, ctx)
		if err != nil {
			return false, err
		}
		r, err := Eval(n.Right, ctx)
		if err != nil {
			return false, err
		}
		return l || r, nil
	case AndExpr:
		l, err := Eval(n.Left, ctx)
		if err != nil {
			return false, err
		}
		r, err := Eval(n.Right, ctx)
		if err != nil {
			return false, err
		}
		return l && r, nil
	case NotExpr:
		inner, err := Eval(n.Inner, ctx)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case CompareExpr:
		return evalCompare(n, ctx)
	case BetweenExpr:
		v := ctx.resolveOperand(n.Operand)
		lo := ctx.resolveOperand(n.Lo)
		hi := ctx.resolveOperand(n.Hi)
		loOK, loCmp := compareLE(lo, v)
		hiOK, hiCmp := compareLE(v, hi)
		return loOK && loCmp && hiOK && hiCmp, nil
	case InExpr:
		v := ctx.resolveOperand(n.Operand)
		for _, candidate := range n.Values {
			if avalue.Equal(v, ctx.resolveOperand(candidate)) {
				return true, nil
			}
		}
		return false, nil
	case FuncCall:
		return evalFuncCall(n, ctx)
	default:
		return false, evalErr("UnknownFunction", "unrecognized condition node")
	}
}

func evalCompare(n CompareExpr, ctx *EvaluationContext) (bool, error) {
	l := ctx.resolveOperand(n.Left)
	r := ctx.resolveOperand(n.Right)
	switch n.Op {
	case TokEq:
		return avalue.Equal(l, r), nil
	case TokNe:
		return !avalue.Equal(l, r), nil
	case TokLt:
		ok, cmp := compareLT(l, r)
		return ok && cmp, nil
	case TokGt:
		ok, cmp := compareLT(r, l)
		return ok && cmp, nil
	case TokLe:
		ok, cmp := compareLE(l, r)
		return ok && cmp, nil
	case TokGe:
		ok, cmp := compareLE(r, l)
		return ok && cmp, nil
	default:
		return false, evalErr("TypeMismatch", "unsupported comparison operator")
	}
}

// compareLT/compareLE return (comparable, result). When the operands are
// not comparable (mixed types, undefined) the comparison is simply false,
// per spec §4.1.
func compareLT(a, b avalue.Value) (bool, bool) {
	if a.IsUndefined() || b.IsUndefined() {
		return true, false
	}
	less, ok := avalue.Less(a, b)
	if !ok {
		return true, false
	}
	return true, less
}

func compareLE(a, b avalue.Value) (bool, bool) {
	if a.IsUndefined() || b.IsUndefined() {
		return true, false
	}
	return true, valuesLE(a, b)
}

// valuesLE reports a <= b. Equality is decided through Less in both
// directions rather than avalue.Equal, so two numerically-equal N values
// with different decimal text (e.g. a query operand "200" against a
// SortDecode-reformatted sort key "2e2") still compare equal instead of
// falling through to false.
func valuesLE(a, b avalue.Value) bool {
	aLessB, ok := avalue.Less(a, b)
	if !ok {
		return avalue.Equal(a, b)
	}
	if aLessB {
		return true
	}
	bLessA, _ := avalue.Less(b, a)
	return !bLessA
}

// valuesEqual reports a == b for comparison purposes: numeric operands by
// magnitude (via valuesLE both ways), everything else by avalue.Equal.
func valuesEqual(a, b avalue.Value) bool {
	if a.Kind == avalue.KindN && b.Kind == avalue.KindN {
		return valuesLE(a, b) && valuesLE(b, a)
	}
	return avalue.Equal(a, b)
}

func evalFuncCall(n FuncCall, ctx *EvaluationContext) (bool, error) {
	switch n.Name {
	case "attribute_exists":
		path := n.Args[0].Path
		if path == nil {
			return false, evalErr("TypeMismatch", "attribute_exists expects a path")
		}
		_, ok := ctx.resolvePath(*path)
		return ok, nil
	case "attribute_not_exists":
		path := n.Args[0].Path
		if path == nil {
			return false, evalErr("TypeMismatch", "attribute_not_exists expects a path")
		}
		_, ok := ctx.resolvePath(*path)
		return !ok, nil
	case "begins_with":
		path := n.Args[0].Path
		if path == nil {
			return false, evalErr("TypeMismatch", "begins_with expects a path")
		}
		v, ok := ctx.resolvePath(*path)
		if !ok || v.Kind != avalue.KindS {
			return false, nil
		}
		prefix := ctx.resolveOperand(n.Args[1])
		if prefix.Kind != avalue.KindS {
			return false, nil
		}
		return len(v.Str) >= len(prefix.Str) && v.Str[:len(prefix.Str)] == prefix.Str, nil
	case "contains":
		path := n.Args[0].Path
		if path == nil {
			return false, evalErr("TypeMismatch", "contains expects a path")
		}
		v, ok := ctx.resolvePath(*path)
		if !ok {
			return false, nil
		}
		needle := ctx.resolveOperand(n.Args[1])
		switch v.Kind {
		case avalue.KindS:
			if needle.Kind != avalue.KindS {
				return false, nil
			}
			return containsSubstring(v.Str, needle.Str), nil
		case avalue.KindL:
			for _, e := range v.List {
				if avalue.Equal(e, needle) {
					return true, nil
				}
			}
			return false, nil
		case avalue.KindSS:
			for _, e := range v.StrSet {
				if needle.Kind == avalue.KindS && e == needle.Str {
					return true, nil
				}
			}
			return false, nil
		case avalue.KindNS:
			for _, e := range v.NumSet {
				if needle.Kind == avalue.KindN && e == needle.Num {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, nil
		}
	case "attribute_type":
		path := n.Args[0].Path
		if path == nil {
			return false, evalErr("TypeMismatch", "attribute_type expects a path")
		}
		v, ok := ctx.resolvePath(*path)
		if !ok {
			return false, nil
		}
		want := ctx.resolveOperand(n.Args[1])
		if want.Kind != avalue.KindS {
			return false, nil
		}
		return avalue.TypeName(v) == want.Str, nil
	default:
		return false, evalErr("UnknownFunction", n.Name)
	}
}

func containsSubstring(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
