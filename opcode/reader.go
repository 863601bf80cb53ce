package opcode

import "github.com/quartz-lang/quartzvm/value"

// Reader is a bounds-checked cursor over a chunk's raw bytecode bytes. It
// is the one place fixed-width reads happen; the Module Validator's
// byte-by-byte decode pass and the VM's fetch-decode loop both hold one
// instead of duplicating the bounds arithmetic, per the shared chunk
// reader this module factors out once.
type Reader struct {
	code []byte
	pos  int
}

// NewReader returns a Reader positioned at the start of code.
func NewReader(code []byte) *Reader { return &Reader{code: code} }

// Pos returns the current byte offset, the program counter both the
// validator and the VM report in location hints on fault.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total chunk length in bytes.
func (r *Reader) Len() int { return len(r.code) }

// AtEnd reports whether the cursor has consumed every byte.
func (r *Reader) AtEnd() bool { return r.pos >= len(r.code) }

// ReadU8 consumes one byte, or faults value.ErrIndexOutOfBounds if the
// chunk is truncated.
func (r *Reader) ReadU8() (uint8, error) {
	if r.pos+1 > len(r.code) {
		return 0, value.ErrIndexOutOfBounds
	}
	b := r.code[r.pos]
	r.pos++
	return b, nil
}

// ReadU16 consumes two little-endian bytes.
func (r *Reader) ReadU16() (uint16, error) {
	if r.pos+2 > len(r.code) {
		return 0, value.ErrIndexOutOfBounds
	}
	v := uint16(r.code[r.pos]) | uint16(r.code[r.pos+1])<<8
	r.pos += 2
	return v, nil
}

// ReadI16 consumes two little-endian bytes as a signed relative jump
// offset.
func (r *Reader) ReadI16() (int16, error) {
	u, err := r.ReadU16()
	if err != nil {
		return 0, err
	}
	return int16(u), nil
}

// Advance skips n bytes without interpreting them, used by the validator
// to step over an instruction's operand bytes once it has confirmed they
// are present.
func (r *Reader) Advance(n int) error {
	if r.pos+n > len(r.code) {
		return value.ErrIndexOutOfBounds
	}
	r.pos += n
	return nil
}

// Seek repositions the cursor to an absolute offset, used by jump
// instructions. Only the offset's range is checked: neither Seek nor the
// Module Validator checks that it lands on an instruction boundary.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > len(r.code) {
		return value.ErrIndexOutOfBounds
	}
	r.pos = offset
	return nil
}

// ReadOp reads the next opcode tag byte without consuming its operands.
func (r *Reader) ReadOp() (OpCode, error) {
	b, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	return OpCode(b), nil
}
