// Package nsof implements the Newton Streamed Object Format codec:
// integers, booleans/nil, characters, symbols, UTF-16 strings, arrays,
// and frames, with the precedent table that lets shared sub-objects be
// encoded once and referenced by index.
//
// Encode follows the reference NSOF encoder's push_xlong helper, its
// precedent numbering (objects numbered in order of first appearance,
// assigned here in a single walk), and a frame's parallel key/value array
// layout. No reference decoder exists for comparison; Decode is built
// as the structural inverse of that encoding.
package nsof

import "fmt"

// Kind discriminates the Ref variants this codec supports. Real numbers
// and large (>30-bit) integers are referenced by the wire format but
// are not implemented.
type Kind uint8

const (
	KindInt Kind = iota
	KindBool
	KindNil
	KindChar
	KindSymbol
	KindString
	KindArray
	KindFrame
)

// Ref is a single NSOF value. Only the field matching Kind is
// meaningful. Symbol/String/Array/Frame are reference types: encoding
// the same *Ref pointer twice emits a precedent reference the second
// time, and decoding reconstructs that sharing.
type Ref struct {
	Kind Kind

	Int  int32
	Bool bool
	Char uint16

	Symbol string
	String string // Go string holding the logical UTF-16 text (decoded/encoded as UTF-16 on the wire)

	Array []*Ref
	Frame *Frame
}

// Frame is an unordered-by-value NSOF frame, encoded as parallel arrays
// of symbol keys and value references.
type Frame struct {
	Keys   []string
	Values []*Ref
}

// Int builds an immediate-integer Ref.
func Int(v int32) *Ref { return &Ref{Kind: KindInt, Int: v} }

// Bool builds an immediate boolean Ref.
func Bool(v bool) *Ref { return &Ref{Kind: KindBool, Bool: v} }

// Nil builds the immediate nil Ref.
func Nil() *Ref { return &Ref{Kind: KindNil} }

// Char builds a character Ref.
func Char(v uint16) *Ref { return &Ref{Kind: KindChar, Char: v} }

// Sym builds a symbol Ref.
func Sym(name string) *Ref { return &Ref{Kind: KindSymbol, Symbol: name} }

// Str builds a string Ref.
func Str(s string) *Ref { return &Ref{Kind: KindString, String: s} }

// Arr builds an array Ref.
func Arr(items ...*Ref) *Ref { return &Ref{Kind: KindArray, Array: items} }

// Frm builds a frame Ref from parallel key/value slices.
func Frm(keys []string, values []*Ref) *Ref {
	return &Ref{Kind: KindFrame, Frame: &Frame{Keys: keys, Values: values}}
}

// FieldGet returns the value of key in a frame Ref, or nil if absent.
func (r *Ref) FieldGet(key string) *Ref {
	if r == nil || r.Kind != KindFrame {
		return nil
	}
	for i, k := range r.Frame.Keys {
		if k == key {
			return r.Frame.Values[i]
		}
	}
	return nil
}

// ErrUnsupported is returned by Encode for a Ref of unknown Kind and by
// Decode for an immediate that is not an integer, a character, true or
// nil. Integers wider than 30 bits are not rejected; their high bits are
// lost.
var ErrUnsupported = fmt.Errorf("nsof: unsupported value kind")
