package expr

import (
	"github.com/dreamware/keystore/internal/avalue"
)

// ApplyUpdate applies an update AST to the original item, returning a new
// item map. Clauses always apply in the order SET, REMOVE, ADD, DELETE
// regardless of their textual order in the source, and within a clause
// actions apply left-to-right (spec §4.1). SET right-hand sides are
// evaluated against the original snapshot, not the working copy, so a SET
// action can never observe another SET action's result within the same
// expression.
func ApplyUpdate(u *UpdateExpr, ctx *EvaluationContext) (map[string]avalue.Value, error) {
	original := ctx.Item
	working := cloneItem(original)

	for _, action := range u.Set {
		val, err := evalSetValue(action.Value, ctx)
		if err != nil {
			// arithmetic on a missing operand is dropped, per the
			// documented choice in SPEC_FULL.md §9.
			if _, ok := err.(*droppedAction); ok {
				continue
			}
			return nil, err
		}
		setPath(working, action.Target, ctx, val)
	}

	for _, path := range u.Remove {
		removePath(working, path, ctx)
	}

	for _, action := range u.Add {
		applyAdd(working, action, ctx)
	}

	for _, action := range u.Delete {
		applyDelete(working, action, ctx)
	}

	return working, nil
}

// droppedAction signals that a SET arithmetic action had a non-numeric or
// missing operand and should be silently skipped.
type droppedAction struct{}

func (*droppedAction) Error() string { return "action dropped" }

func evalSetValue(sv SetValue, ctx *EvaluationContext) (avalue.Value, error) {
	switch {
	case sv.Operand != nil:
		return ctx.resolveOperand(*sv.Operand), nil
	case sv.Arithmetic != nil:
		l := ctx.resolveOperand(sv.Arithmetic.Left)
		r := ctx.resolveOperand(sv.Arithmetic.Right)
		if l.Kind != avalue.KindN || r.Kind != avalue.KindN {
			return avalue.Value{}, &droppedAction{}
		}
		return arithmetic(l, r, sv.Arithmetic.Op)
	case sv.IfNotExists != nil:
		if cur, ok := ctx.resolvePath(sv.IfNotExists.Path); ok {
			return cur, nil
		}
		return ctx.resolveOperand(sv.IfNotExists.Default), nil
	case sv.ListAppend != nil:
		l := ctx.resolveOperand(sv.ListAppend.Left)
		r := ctx.resolveOperand(sv.ListAppend.Right)
		if l.Kind != avalue.KindL || r.Kind != avalue.KindL {
			return avalue.Value{}, evalErr("TypeMismatch", "list_append requires list operands")
		}
		return avalue.L(append(append([]avalue.Value{}, l.List...), r.List...)), nil
	default:
		return avalue.Value{}, evalErr("TypeMismatch", "empty SET value")
	}
}

func arithmetic(l, r avalue.Value, op TokenKind) (avalue.Value, error) {
	lf, lok := parseDecimal(l.Num)
	rf, rok := parseDecimal(r.Num)
	if !lok || !rok {
		return avalue.Value{}, &droppedAction{}
	}
	switch op {
	case TokPlus:
		return avalue.N(formatDecimal(lf.Add(lf, rf))), nil
	case TokMinus:
		return avalue.N(formatDecimal(lf.Sub(lf, rf))), nil
	default:
		return avalue.Value{}, evalErr("TypeMismatch", "unsupported arithmetic operator")
	}
}

func cloneItem(item map[string]avalue.Value) map[string]avalue.Value {
	out := make(map[string]avalue.Value, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// setPath writes val at path within item, creating intermediate maps as
// needed. Only the common case of a single top-level attribute or a
// nested map path is supported; list-index targets are not writable via
// SET in this implementation (parsed, then skipped at apply time, leaving
// the item unchanged).
func setPath(item map[string]avalue.Value, p Path, ctx *EvaluationContext, val avalue.Value) {
	if len(p.Segments) == 0 {
		return
	}
	for _, seg := range p.Segments {
		if seg.Index != nil {
			return
		}
	}
	if len(p.Segments) == 1 {
		name := ctx.resolveName(p.Segments[0])
		item[name] = val
		return
	}
	name := ctx.resolveName(p.Segments[0])
	child, ok := item[name]
	if !ok || child.Kind != avalue.KindM {
		child = avalue.M(map[string]avalue.Value{})
	}
	childMap := cloneItem(child.Map)
	setPath(childMap, Path{Segments: p.Segments[1:]}, ctx, val)
	item[name] = avalue.M(childMap)
}

func removePath(item map[string]avalue.Value, p Path, ctx *EvaluationContext) {
	if len(p.Segments) == 0 {
		return
	}
	if len(p.Segments) == 1 {
		name := ctx.resolveName(p.Segments[0])
		delete(item, name)
		return
	}
	name := ctx.resolveName(p.Segments[0])
	child, ok := item[name]
	if !ok || child.Kind != avalue.KindM {
		return
	}
	childMap := cloneItem(child.Map)
	removePath(childMap, Path{Segments: p.Segments[1:]}, ctx)
	item[name] = avalue.M(childMap)
}

func applyAdd(item map[string]avalue.Value, action AddAction, ctx *EvaluationContext) {
	name := topLevelName(action.Target, ctx)
	val := ctx.resolveOperand(action.Value)
	cur, exists := item[name]

	switch val.Kind {
	case avalue.KindN:
		if !exists {
			item[name] = val
			return
		}
		if cur.Kind != avalue.KindN {
			return
		}
		lf, _ := parseDecimal(cur.Num)
		rf, ok := parseDecimal(val.Num)
		if !ok {
			return
		}
		item[name] = avalue.N(formatDecimal(lf.Add(lf, rf)))
	case avalue.KindSS:
		item[name] = avalue.SSet(unionStrings(setOrEmptyStrings(cur), val.StrSet))
	case avalue.KindNS:
		item[name] = avalue.NSet(unionStrings(setOrEmptyNums(cur), val.NumSet))
	case avalue.KindBS:
		item[name] = avalue.BSet(unionBytes(setOrEmptyBin(cur), val.BinSet))
	}
}

func applyDelete(item map[string]avalue.Value, action DeleteAction, ctx *EvaluationContext) {
	name := topLevelName(action.Target, ctx)
	cur, exists := item[name]
	if !exists {
		return
	}
	val := ctx.resolveOperand(action.Value)
	switch cur.Kind {
	case avalue.KindSS:
		item[name] = avalue.SSet(subtractStrings(cur.StrSet, val.StrSet))
	case avalue.KindNS:
		item[name] = avalue.NSet(subtractStrings(cur.NumSet, val.NumSet))
	case avalue.KindBS:
		item[name] = avalue.BSet(subtractBytes(cur.BinSet, val.BinSet))
	}
}

func topLevelName(p Path, ctx *EvaluationContext) string {
	if len(p.Segments) == 0 {
		return ""
	}
	return ctx.resolveName(p.Segments[0])
}

func setOrEmptyStrings(v avalue.Value) []string {
	if v.Kind == avalue.KindSS {
		return v.StrSet
	}
	return nil
}

func setOrEmptyNums(v avalue.Value) []string {
	if v.Kind == avalue.KindNS {
		return v.NumSet
	}
	return nil
}

func setOrEmptyBin(v avalue.Value) [][]byte {
	if v.Kind == avalue.KindBS {
		return v.BinSet
	}
	return nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func subtractStrings(a, b []string) []string {
	remove := make(map[string]bool, len(b))
	for _, s := range b {
		remove[s] = true
	}
	var out []string
	for _, s := range a {
		if !remove[s] {
			out = append(out, s)
		}
	}
	return out
}

func unionBytes(a, b [][]byte) [][]byte {
	var out [][]byte
	out = append(out, a...)
	for _, cand := range b {
		dup := false
		for _, existing := range out {
			if string(existing) == string(cand) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, cand)
		}
	}
	return out
}

func subtractBytes(a, b [][]byte) [][]byte {
	remove := make(map[string]bool, len(b))
	for _, v := range b {
		remove[string(v)] = true
	}
	var out [][]byte
	for _, v := range a {
		if !remove[string(v)] {
			out = append(out, v)
		}
	}
	return out
}
