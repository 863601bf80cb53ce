// Package module implements the bit-exact binary Module format: the
// on-disk/on-wire representation of a compiled program's constants,
// chunks, and struct/enum schemas, plus a content hash and the CBOR
// diagnostic rendering used by tooling.
package module

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

const magic uint32 = 0x51564D31 // "QVM1"

// Version 1 of the format, packed into a single u16 (major<<8|minor).
const Version uint16 = 0x0100

// VersionString renders a packed u16 version as a semver string, so
// env.Environment.CompatibleWith can compare a Module's declared version
// against a host's supported range with golang.org/x/mod/semver instead
// of comparing raw integers.
func VersionString(v uint16) string {
	return fmt.Sprintf("v%d.%d.0", v>>8, v&0xFF)
}

// Module is a fully decoded program: its struct/enum schemas, its
// constant pool, and its executable chunks. It is produced by Decode and
// consumed by the Module Validator and the VM; quartzvm has no compiler,
// so a Module is always either decoded from bytes or built directly by a
// test via the exported constructors.
type Module struct {
	FormatVersion uint16
	Structs       []qtype.StructSchema
	Enums         []qtype.EnumSchema
	Constants     []value.Cell
	Chunks        [][]byte
}

// New constructs a Module for Version 1 directly, the path tests and the
// vm package use to build fixtures without going through Encode/Decode.
func New(structs []qtype.StructSchema, enums []qtype.EnumSchema, constants []value.Cell, chunks [][]byte) Module {
	return Module{
		FormatVersion: Version,
		Structs:       structs,
		Enums:         enums,
		Constants:     constants,
		Chunks:        chunks,
	}
}

// Encode renders m to its bit-exact binary wire format:
//
//	u32 magic, u16 version,
//	u16 struct_count, struct_count × StructSchema,
//	u16 enum_count,   enum_count   × EnumSchema,
//	u16 const_count,  const_count  × ConstantValue,
//	u16 chunk_count,  chunk_count  × (u32 length, length bytes)
//
// all integers little-endian.
func (m Module) Encode() []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, magic)
	buf = binary.LittleEndian.AppendUint16(buf, m.FormatVersion)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Structs)))
	for _, s := range m.Structs {
		buf = encodeStructSchema(buf, s)
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Enums)))
	for _, e := range m.Enums {
		buf = encodeEnumSchema(buf, e)
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Constants)))
	for _, c := range m.Constants {
		buf = encodeCell(buf, c)
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Chunks)))
	for _, chunk := range m.Chunks {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(chunk)))
		buf = append(buf, chunk...)
	}

	return buf
}

// Decode parses raw into a Module, or returns ErrMalformed if the bytes
// are truncated, carry an unknown magic, or reference a struct/enum id no
// earlier schema declared. The version field is stored as read, not
// checked; env.Environment.CompatibleWith compares it (vm.New calls it).
// Decode performs no semantic
// validation (bounds, recursion, gas) — that is the Module Validator's
// job, run separately once a Module has successfully decoded.
func Decode(raw []byte) (Module, error) {
	r := newByteReader(raw)

	gotMagic, err := r.u32()
	if err != nil {
		return Module{}, err
	}
	if gotMagic != magic {
		return Module{}, ErrMalformed
	}

	version, err := r.u16()
	if err != nil {
		return Module{}, err
	}

	structCount, err := r.u16()
	if err != nil {
		return Module{}, err
	}
	structs := make([]qtype.StructSchema, 0, structCount)
	for i := uint16(0); i < structCount; i++ {
		s, err := decodeStructSchema(r, i)
		if err != nil {
			return Module{}, err
		}
		structs = append(structs, s)
	}

	enumCount, err := r.u16()
	if err != nil {
		return Module{}, err
	}
	enums := make([]qtype.EnumSchema, 0, enumCount)
	for i := uint16(0); i < enumCount; i++ {
		e, err := decodeEnumSchema(r, i)
		if err != nil {
			return Module{}, err
		}
		enums = append(enums, e)
	}

	constCount, err := r.u16()
	if err != nil {
		return Module{}, err
	}
	constants := make([]value.Cell, 0, constCount)
	for i := uint16(0); i < constCount; i++ {
		c, err := decodeCell(r, structs, enums)
		if err != nil {
			return Module{}, err
		}
		constants = append(constants, c)
	}

	chunkCount, err := r.u16()
	if err != nil {
		return Module{}, err
	}
	chunks := make([][]byte, 0, chunkCount)
	for i := uint16(0); i < chunkCount; i++ {
		length, err := r.u32()
		if err != nil {
			return Module{}, err
		}
		body, err := r.bytes(int(length))
		if err != nil {
			return Module{}, err
		}
		owned := make([]byte, len(body))
		copy(owned, body)
		chunks = append(chunks, owned)
	}

	return Module{
		FormatVersion: version,
		Structs:       structs,
		Enums:         enums,
		Constants:     constants,
		Chunks:        chunks,
	}, nil
}

// Hash returns the blake2b-256 digest of m's canonical binary encoding,
// an identity a host-side cache can key a compiled Module by (the VM
// itself does not use it; `quartzvm validate` prints it).
func (m Module) Hash() [32]byte {
	return blake2b.Sum256(m.Encode())
}

// canonicalView is the CBOR-friendly projection of a Module used by
// Canonical: diagnostic tooling (dump/disassemble) wants struct field
// names and hex-friendly chunk bytes, not the packed wire layout.
type canonicalView struct {
	FormatVersion string       `cbor:"version"`
	Structs       []structView `cbor:"structs"`
	Enums         []enumView   `cbor:"enums"`
	ConstantCount int          `cbor:"constant_count"`
	Chunks        [][]byte     `cbor:"chunks"`
}

type structView struct {
	ID     uint16   `cbor:"id"`
	Fields []string `cbor:"fields"`
}

type enumView struct {
	ID       uint16     `cbor:"id"`
	Variants [][]string `cbor:"variants"`
}

// Canonical renders m as diagnostic CBOR, used by `quartzvm dump` rather
// than the bit-exact wire format: human-auditable field names instead of
// positional bytes.
func (m Module) Canonical() ([]byte, error) {
	view := canonicalView{
		FormatVersion: VersionString(m.FormatVersion),
		ConstantCount: len(m.Constants),
		Chunks:        m.Chunks,
	}
	for _, s := range m.Structs {
		fields := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			fields[i] = f.String()
		}
		view.Structs = append(view.Structs, structView{ID: s.ID, Fields: fields})
	}
	for _, e := range m.Enums {
		var variants [][]string
		for _, v := range e.Variants {
			fields := make([]string, len(v.Fields))
			for i, f := range v.Fields {
				fields[i] = f.String()
			}
			variants = append(variants, fields)
		}
		view.Enums = append(view.Enums, enumView{ID: e.ID, Variants: variants})
	}

	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(view)
}
