package expr

import "github.com/dreamware/keystore/internal/avalue"

// ResolvePartitionValue returns the concrete partition-key value a parsed
// key condition requires, using ctx's value-placeholder map.
func (kc *KeyCondition) ResolvePartitionValue(ctx *EvaluationContext) avalue.Value {
	return ctx.resolveOperand(kc.PartitionValue)
}

// SortMatch reports whether a stored sort-key value satisfies the parsed
// sort-key condition. Comparisons use the avalue ordering rules of spec
// §4.1; begins_with is only meaningful for string sort keys (the Open
// Question in SPEC_FULL.md §9 resolves this by rejecting non-string sort
// keys for begins_with here, at eval time, since ParseKeyCondition has no
// schema to consult — a non-string sk simply never matches).
func (sc *SortCondition) SortMatch(sk avalue.Value, ctx *EvaluationContext) bool {
	switch sc.Op {
	case SortEq:
		return valuesEqual(sk, ctx.resolveOperand(sc.Operand))
	case SortLt:
		ok, r := compareLT(sk, ctx.resolveOperand(sc.Operand))
		return ok && r
	case SortGt:
		ok, r := compareLT(ctx.resolveOperand(sc.Operand), sk)
		return ok && r
	case SortLe:
		ok, r := compareLE(sk, ctx.resolveOperand(sc.Operand))
		return ok && r
	case SortGe:
		ok, r := compareLE(ctx.resolveOperand(sc.Operand), sk)
		return ok && r
	case SortBetween:
		lo := ctx.resolveOperand(sc.Lo)
		hi := ctx.resolveOperand(sc.Hi)
		okLo, rLo := compareLE(lo, sk)
		okHi, rHi := compareLE(sk, hi)
		return okLo && rLo && okHi && rHi
	case SortBeginsWith:
		if sk.Kind != avalue.KindS {
			return false
		}
		prefix := ctx.resolveOperand(sc.Operand)
		if prefix.Kind != avalue.KindS {
			return false
		}
		return len(sk.Str) >= len(prefix.Str) && sk.Str[:len(prefix.Str)] == prefix.Str
	default:
		return false
	}
}

// ApplyProjection returns the subset of item named by the projection's
// paths. Missing attributes are simply omitted.
func ApplyProjection(proj *Projection, item map[string]avalue.Value, ctx *EvaluationContext) map[string]avalue.Value {
	out := make(map[string]avalue.Value, len(proj.Paths))
	saved := ctx.Item
	ctx.Item = item
	defer func() { ctx.Item = saved }()

	for _, p := range proj.Paths {
		if len(p.Segments) == 0 {
			continue
		}
		name := ctx.resolveName(p.Segments[0])
		v, ok := ctx.resolvePath(p)
		if !ok {
			continue
		}
		if len(p.Segments) == 1 {
			out[name] = v
		} else {
			// nested projections are flattened to their top-level
			// attribute name holding only the projected sub-value is
			// beyond this store's scope; store the resolved leaf under
			// the top-level name instead of reconstructing nested maps.
			out[name] = v
		}
	}
	return out
}
