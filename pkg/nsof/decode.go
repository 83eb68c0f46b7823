package nsof

import (
	"fmt"
	"unicode/utf16"
)

// decoder walks a wire buffer, rebuilding the precedent table in order
// of first appearance, exactly mirroring the encoder's assignment
// order: newly decoded objects are appended to the table in the order
// they appear on the wire.
type decoder struct {
	data       []byte
	pos        int
	precedents []*Ref
}

// Decode parses a complete NSOF byte stream (version byte plus one
// top-level tagged value) back into a Ref tree.
func Decode(data []byte) (*Ref, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("nsof: truncated stream")
	}
	if data[0] != 0x02 {
		return nil, fmt.Errorf("nsof: unexpected version byte 0x%02x", data[0])
	}
	d := &decoder{data: data, pos: 1}
	v, err := d.decodeValue()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("nsof: unexpected end of stream")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, fmt.Errorf("nsof: unexpected end of stream")
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readXlong() (int32, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return int32(b), nil
	}
	raw, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(raw[0])<<24 | int32(raw[1])<<16 | int32(raw[2])<<8 | int32(raw[3]), nil
}

func (d *decoder) decodeValue() (*Ref, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return d.decodeImmediate()
	case 5:
		return d.decodeArray()
	case 6:
		return d.decodeFrame()
	case 7:
		return d.decodeSymbol()
	case 8:
		return d.decodeString()
	case 9:
		return d.decodePrecedent()
	default:
		return nil, fmt.Errorf("nsof: unknown tag byte 0x%02x", tag)
	}
}

func (d *decoder) decodeImmediate() (*Ref, error) {
	raw, err := d.readXlong()
	if err != nil {
		return nil, err
	}
	switch raw {
	case 0x02:
		return Nil(), nil
	case 0x1A:
		return Bool(true), nil
	}
	if raw&3 == 0 {
		return Int(raw >> 2), nil
	}
	if raw&0xF == 6 {
		return Char(uint16(raw >> 4)), nil
	}
	return nil, ErrUnsupported
}

func (d *decoder) decodeArray() (*Ref, error) {
	count, err := d.readXlong()
	if err != nil {
		return nil, err
	}
	arr := &Ref{Kind: KindArray, Array: make([]*Ref, count)}
	d.precedents = append(d.precedents, arr)
	for i := range arr.Array {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		arr.Array[i] = v
	}
	return arr, nil
}

func (d *decoder) decodeFrame() (*Ref, error) {
	count, err := d.readXlong()
	if err != nil {
		return nil, err
	}
	keys := make([]string, count)
	values := make([]*Ref, count)
	fr := &Ref{Kind: KindFrame, Frame: &Frame{Keys: keys, Values: values}}
	d.precedents = append(d.precedents, fr)
	for i := range keys {
		k, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		if k.Kind != KindSymbol {
			return nil, fmt.Errorf("nsof: frame key %d is not a symbol", i)
		}
		keys[i] = k.Symbol
	}
	for i := range values {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return fr, nil
}

func (d *decoder) decodeSymbol() (*Ref, error) {
	length, err := d.readXlong()
	if err != nil {
		return nil, err
	}
	raw, err := d.readBytes(int(length))
	if err != nil {
		return nil, err
	}
	sym := &Ref{Kind: KindSymbol, Symbol: string(raw)}
	d.precedents = append(d.precedents, sym)
	return sym, nil
}

func (d *decoder) decodeString() (*Ref, error) {
	byteLen, err := d.readXlong()
	if err != nil {
		return nil, err
	}
	if byteLen < 2 || byteLen%2 != 0 {
		return nil, fmt.Errorf("nsof: malformed string length %d", byteLen)
	}
	n := (int(byteLen) - 2) / 2
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		hi, err := d.readByte()
		if err != nil {
			return nil, err
		}
		lo, err := d.readByte()
		if err != nil {
			return nil, err
		}
		units[i] = uint16(hi)<<8 | uint16(lo)
	}
	if _, err := d.readBytes(2); err != nil { // trailing 0x00 0x00 terminator
		return nil, err
	}
	str := &Ref{Kind: KindString, String: string(utf16.Decode(units))}
	d.precedents = append(d.precedents, str)
	return str, nil
}

func (d *decoder) decodePrecedent() (*Ref, error) {
	idx, err := d.readXlong()
	if err != nil {
		return nil, err
	}
	if idx < 0 || int(idx) >= len(d.precedents) {
		return nil, fmt.Errorf("nsof: precedent index %d out of range", idx)
	}
	return d.precedents[idx], nil
}
