package nsof

// encoder carries the precedent table built up during a single Encode
// call. Sharing is detected by structural equality rather than pointer
// identity (the original C++ encoder's precedent_ field used pointer
// identity), since Go gives no equivalent of "the exact same heap
// object" guarantee across callers building an equivalent tree by hand.
type encoder struct {
	seen []*Ref
}

// Encode serializes v to its NSOF wire representation, version byte
// 0x02 followed by the tagged value.
func Encode(v *Ref) ([]byte, error) {
	e := &encoder{}
	body, err := e.encodeValue(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, 0x02)
	return append(out, body...), nil
}

func pushXlong(value int32) []byte {
	if value >= 0 && value < 255 {
		return []byte{byte(value)}
	}
	return []byte{0xFF, byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
}

func (e *encoder) findPrecedent(v *Ref) (int, bool) {
	for i, s := range e.seen {
		if structEqual(s, v) {
			return i, true
		}
	}
	return 0, false
}

func (e *encoder) encodeValue(v *Ref) ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return append([]byte{0}, pushXlong(v.Int<<2)...), nil
	case KindBool:
		if v.Bool {
			return []byte{0, 0x1A}, nil
		}
		return []byte{0, 0x02}, nil
	case KindNil:
		return []byte{0, 0x02}, nil
	case KindChar:
		return append([]byte{0}, pushXlong(int32(v.Char)<<4|6)...), nil
	case KindSymbol:
		return e.encodeReferenced(v, e.encodeSymbolBody)
	case KindString:
		return e.encodeReferenced(v, e.encodeStringBody)
	case KindArray:
		return e.encodeReferenced(v, e.encodeArrayBody)
	case KindFrame:
		return e.encodeReferenced(v, e.encodeFrameBody)
	default:
		return nil, ErrUnsupported
	}
}

// encodeReferenced handles the shared precedent/fresh-object branch
// common to symbols, strings, arrays, and frames.
func (e *encoder) encodeReferenced(v *Ref, body func(*Ref) ([]byte, error)) ([]byte, error) {
	if idx, ok := e.findPrecedent(v); ok {
		return append([]byte{9}, pushXlong(int32(idx))...), nil
	}
	e.seen = append(e.seen, v)
	return body(v)
}

func (e *encoder) encodeSymbolBody(v *Ref) ([]byte, error) {
	out := []byte{7}
	out = append(out, pushXlong(int32(len(v.Symbol)))...)
	return append(out, []byte(v.Symbol)...), nil
}

func (e *encoder) encodeStringBody(v *Ref) ([]byte, error) {
	units := []rune(v.String)
	out := []byte{8}
	out = append(out, pushXlong(int32(len(units)*2+2))...)
	for _, c := range units {
		out = append(out, byte(c>>8), byte(c))
	}
	return append(out, 0, 0), nil
}

func (e *encoder) encodeArrayBody(v *Ref) ([]byte, error) {
	out := []byte{5}
	out = append(out, pushXlong(int32(len(v.Array)))...)
	for _, item := range v.Array {
		b, err := e.encodeValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// encodeFrameBody writes all keys first, then all values, matching
// NSOF.cpp's Frame::to_nsof exactly.
func (e *encoder) encodeFrameBody(v *Ref) ([]byte, error) {
	out := []byte{6}
	out = append(out, pushXlong(int32(len(v.Frame.Keys)))...)
	for _, k := range v.Frame.Keys {
		b, err := e.encodeValue(Sym(k))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	for _, val := range v.Frame.Values {
		b, err := e.encodeValue(val)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// structEqual compares two Refs by value, recursively, ignoring
// identity. Array/Frame comparisons walk children in order.
func structEqual(a, b *Ref) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.Int == b.Int
	case KindBool:
		return a.Bool == b.Bool
	case KindNil:
		return true
	case KindChar:
		return a.Char == b.Char
	case KindSymbol:
		return a.Symbol == b.Symbol
	case KindString:
		return a.String == b.String
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !structEqual(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindFrame:
		if len(a.Frame.Keys) != len(b.Frame.Keys) {
			return false
		}
		for i := range a.Frame.Keys {
			if a.Frame.Keys[i] != b.Frame.Keys[i] {
				return false
			}
			if !structEqual(a.Frame.Values[i], b.Frame.Values[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
