// Package avalue implements the tagged attribute-value variant that is the
// unit of data in every item, expression, and wire message in this store.
//
// Numbers are always carried as decimal strings so that values round-trip
// without floating point loss; ordering and arithmetic over them parse the
// string into a big.Rat lazily rather than storing a parsed form.
package avalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Kind identifies which variant case a Value holds.
type Kind string

const (
	KindS    Kind = "S"
	KindN    Kind = "N"
	KindB    Kind = "B"
	KindBOOL Kind = "BOOL"
	KindNULL Kind = "NULL"
	KindL    Kind = "L"
	KindM    Kind = "M"
	KindSS   Kind = "SS"
	KindNS   Kind = "NS"
	KindBS   Kind = "BS"
)

// Value is a tagged variant over the ten attribute-value cases. Exactly one
// of the typed fields is meaningful, selected by Kind; callers should use the
// constructors below rather than building a Value by hand.
type Value struct {
	Kind Kind

	Str  string
	Num  string // decimal-string
	Bin  []byte
	Bool bool

	List []Value
	Map  map[string]Value

	StrSet []string
	NumSet []string
	BinSet [][]byte
}

func S(v string) Value    { return Value{Kind: KindS, Str: v} }
func N(v string) Value    { return Value{Kind: KindN, Num: v} }
func B(v []byte) Value    { return Value{Kind: KindB, Bin: v} }
func Bool(v bool) Value   { return Value{Kind: KindBOOL, Bool: v} }
func Null() Value         { return Value{Kind: KindNULL} }
func L(v []Value) Value   { return Value{Kind: KindL, List: v} }
func M(v map[string]Value) Value { return Value{Kind: KindM, Map: v} }
func SSet(v []string) Value { return Value{Kind: KindSS, StrSet: v} }
func NSet(v []string) Value { return Value{Kind: KindNS, NumSet: v} }
func BSet(v [][]byte) Value { return Value{Kind: KindBS, BinSet: v} }

// IsNull reports whether v represents the absence of a value: either the
// Go zero Value (used for "attribute not present") or an explicit NULL.
func (v Value) IsNull() bool {
	return v.Kind == "" || v.Kind == KindNULL
}

// Undefined is the sentinel returned when a value-placeholder fails to
// resolve. It compares false against everything, per spec §4.1.
var Undefined = Value{Kind: "__undefined__"}

func (v Value) IsUndefined() bool { return v.Kind == "__undefined__" }

// jsonForm mirrors the wire-level single-letter-tag encoding (spec §6) and
// is also used internally for canonicalization and equality.
type jsonForm struct {
	S    *string           `json:"S,omitempty"`
	N    *string           `json:"N,omitempty"`
	B    []byte            `json:"B,omitempty"`
	BOOL *bool             `json:"BOOL,omitempty"`
	NULL *bool              `json:"NULL,omitempty"`
	L    []jsonForm        `json:"L,omitempty"`
	M    map[string]jsonForm `json:"M,omitempty"`
	SS   []string          `json:"SS,omitempty"`
	NS   []string          `json:"NS,omitempty"`
	BS   [][]byte          `json:"BS,omitempty"`
}

func (v Value) toJSONForm() jsonForm {
	switch v.Kind {
	case KindS:
		s := v.Str
		return jsonForm{S: &s}
	case KindN:
		n := v.Num
		return jsonForm{N: &n}
	case KindB:
		return jsonForm{B: v.Bin}
	case KindBOOL:
		b := v.Bool
		return jsonForm{BOOL: &b}
	case KindNULL, "":
		t := true
		return jsonForm{NULL: &t}
	case KindL:
		l := make([]jsonForm, len(v.List))
		for i, e := range v.List {
			l[i] = e.toJSONForm()
		}
		return jsonForm{L: l}
	case KindM:
		m := make(map[string]jsonForm, len(v.Map))
		for k, e := range v.Map {
			m[k] = e.toJSONForm()
		}
		return jsonForm{M: m}
	case KindSS:
		return jsonForm{SS: v.StrSet}
	case KindNS:
		return jsonForm{NS: v.NumSet}
	case KindBS:
		return jsonForm{BS: v.BinSet}
	default:
		t := true
		return jsonForm{NULL: &t}
	}
}

// MarshalJSON emits the single-letter-tag wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toJSONForm())
}

// UnmarshalJSON parses the single-letter-tag wire form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jf jsonForm
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	*v = fromJSONForm(jf)
	return nil
}

func fromJSONForm(jf jsonForm) Value {
	switch {
	case jf.S != nil:
		return S(*jf.S)
	case jf.N != nil:
		return N(*jf.N)
	case jf.B != nil:
		return B(jf.B)
	case jf.BOOL != nil:
		return Bool(*jf.BOOL)
	case jf.L != nil:
		list := make([]Value, len(jf.L))
		for i, e := range jf.L {
			list[i] = fromJSONForm(e)
		}
		return L(list)
	case jf.M != nil:
		m := make(map[string]Value, len(jf.M))
		for k, e := range jf.M {
			m[k] = fromJSONForm(e)
		}
		return M(m)
	case jf.SS != nil:
		return SSet(jf.SS)
	case jf.NS != nil:
		return NSet(jf.NS)
	case jf.BS != nil:
		return BSet(jf.BS)
	default:
		return Null()
	}
}

// Canonical returns a deterministic JSON encoding of v with every map's keys
// sorted, suitable for equality comparisons and for use as a storage key
// component. Every producer of partition/sort key encodings in this module
// goes through this function so they agree bit-exactly (spec §4.2).
func Canonical(v Value) string {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.String()
}

func writeCanonical(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindS:
		fmt.Fprintf(buf, "{\"S\":%s}", mustJSON(v.Str))
	case KindN:
		fmt.Fprintf(buf, "{\"N\":%s}", mustJSON(v.Num))
	case KindB:
		fmt.Fprintf(buf, "{\"B\":%s}", mustJSON(v.Bin))
	case KindBOOL:
		fmt.Fprintf(buf, "{\"BOOL\":%t}", v.Bool)
	case KindL:
		buf.WriteString("{\"L\":[")
		for i, e := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteString("]}")
	case KindM:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteString("{\"M\":{")
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(buf, "%s:", mustJSON(k))
			writeCanonical(buf, v.Map[k])
		}
		buf.WriteString("}}")
	case KindSS:
		ss := append([]string(nil), v.StrSet...)
		sort.Strings(ss)
		fmt.Fprintf(buf, "{\"SS\":%s}", mustJSON(ss))
	case KindNS:
		ns := append([]string(nil), v.NumSet...)
		sort.Slice(ns, func(i, j int) bool { return numLess(ns[i], ns[j]) })
		fmt.Fprintf(buf, "{\"NS\":%s}", mustJSON(ns))
	case KindBS:
		bs := append([][]byte(nil), v.BinSet...)
		sort.Slice(bs, func(i, j int) bool { return bytes.Compare(bs[i], bs[j]) < 0 })
		fmt.Fprintf(buf, "{\"BS\":%s}", mustJSON(bs))
	default:
		buf.WriteString("{\"NULL\":true}")
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Equal reports deep, order-insensitive (for sets/maps) equality by
// canonical JSON, per spec §4.1's comparison semantics.
func Equal(a, b Value) bool {
	if a.IsUndefined() || b.IsUndefined() {
		return false
	}
	return Canonical(a) == Canonical(b)
}

// numLess orders two decimal-string numbers numerically.
func numLess(a, b string) bool {
	ra, aok := new(big.Rat).SetString(a)
	rb, bok := new(big.Rat).SetString(b)
	if !aok || !bok {
		return a < b
	}
	return ra.Cmp(rb) < 0
}

// Less implements the ordering comparisons of spec §4.1: numeric if both
// numeric, lexicographic if both string, otherwise (false, false) meaning
// "not comparable" (treated as a failed comparison).
func Less(a, b Value) (result bool, comparable bool) {
	if a.Kind == KindN && b.Kind == KindN {
		return numLess(a.Num, b.Num), true
	}
	if a.Kind == KindS && b.Kind == KindS {
		return a.Str < b.Str, true
	}
	return false, false
}

// Size implements the size() function of spec §4.1.
func Size(v Value) (int, bool) {
	switch v.Kind {
	case KindS:
		return len([]rune(v.Str)), true
	case KindL:
		return len(v.List), true
	case KindM:
		return len(v.Map), true
	case KindSS:
		return len(v.StrSet), true
	case KindNS:
		return len(v.NumSet), true
	case KindBS:
		return len(v.BinSet), true
	case KindB:
		return len(v.Bin), true
	default:
		return 0, false
	}
}

// TypeName returns the DynamoDB-style attribute_type() code for v.
func TypeName(v Value) string {
	if v.IsNull() {
		return "NULL"
	}
	return string(v.Kind)
}
