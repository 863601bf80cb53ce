package validator

import (
	"github.com/quartz-lang/quartzvm/env"
	"github.com/quartz-lang/quartzvm/module"
	"github.com/quartz-lang/quartzvm/opcode"
	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

const (
	maxCount          = 1 << 16
	constantMaxDepth  = 16
	constantMaxMemory = 1024
)

// ModuleValidator checks a decoded Module for internal soundness before
// the VM is allowed to execute it.
type ModuleValidator struct {
	module *module.Module
	env    *env.Environment
}

// New returns a validator for m against env, the registry its struct/
// enum references are resolved against. InvokeNative targets are not
// checked here; the VM resolves them when the instruction executes.
func New(m *module.Module, e *env.Environment) *ModuleValidator {
	return &ModuleValidator{module: m, env: e}
}

// Verify runs every check and returns the first failure encountered:
// enums, structs, constants, chunks, after the top-level count bounds.
func (v *ModuleValidator) Verify() error {
	if len(v.module.Constants) >= maxCount {
		return fail(KindTooManyConstants, "%d constants declared", len(v.module.Constants))
	}
	if len(v.module.Chunks) >= maxCount {
		return fail(KindTooManyChunks, "%d chunks declared", len(v.module.Chunks))
	}
	if len(v.module.Structs) >= maxCount {
		return fail(KindTooManyStructs, "%d structs declared", len(v.module.Structs))
	}
	if len(v.module.Enums) >= maxCount {
		return fail(KindTooManyEnums, "%d enums declared", len(v.module.Enums))
	}
	if len(v.module.Structs)+len(v.module.Enums) >= maxCount {
		return fail(KindTooManyTypes, "%d combined struct/enum types", len(v.module.Structs)+len(v.module.Enums))
	}

	if err := v.verifyEnums(); err != nil {
		return err
	}
	if err := v.verifyStructs(); err != nil {
		return err
	}
	if err := v.verifyConstants(); err != nil {
		return err
	}
	if err := v.verifyChunks(); err != nil {
		return err
	}
	return nil
}

// verifyStructs rejects a struct that names itself directly as a field
// type. Non-direct cycles through an intermediate struct are permitted;
// they can only be materialised through Optionals/Arrays at runtime.
func (v *ModuleValidator) verifyStructs() error {
	for _, s := range v.module.Structs {
		if len(s.Fields) > 255 {
			return fail(KindTooManyStructFields, "struct %d has %d fields", s.ID, len(s.Fields))
		}
		for _, f := range s.Fields {
			if f.Tag() == qtype.TagStruct && f.StructID() == s.ID {
				return fail(KindRecursiveStruct, "struct %d", s.ID)
			}
		}
	}
	return nil
}

// verifyEnums mirrors verifyStructs for each variant of each enum.
func (v *ModuleValidator) verifyEnums() error {
	for _, e := range v.module.Enums {
		if len(e.Variants) > 255 {
			return fail(KindTooManyEnumVariants, "enum %d has %d variants", e.ID, len(e.Variants))
		}
		for _, variant := range e.Variants {
			if len(variant.Fields) > 255 {
				return fail(KindTooManyEnumVariantFields, "enum %d variant", e.ID)
			}
			for _, f := range variant.Fields {
				if f.Tag() == qtype.TagEnum && f.EnumID() == e.ID {
					return fail(KindRecursiveEnum, "enum %d", e.ID)
				}
			}
		}
	}
	return nil
}

type stackEntry struct {
	cell  value.Cell
	depth int
}

// verifyValue walks cell's tree iteratively (an explicit work-stack of
// (cell, depth) pairs, not recursion, so a deliberately deep constant
// can't blow the Go call stack) and returns its total memory weight, or
// a fault if depth/memory/schema checks fail. Every node costs 1 (its
// kind tag byte), plus a shape-specific constant approximating that
// shape's own header cost, plus each primitive's own encoded width.
func (v *ModuleValidator) verifyValue(root value.Cell) (int, error) {
	stack := []stackEntry{{cell: root, depth: 0}}
	memory := 0

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if entry.depth > constantMaxDepth {
			return 0, fail(KindTooManyConstants, "constant nesting exceeds depth %d", constantMaxDepth)
		}

		memory++
		if memory > constantMaxMemory {
			return 0, fail(KindTooMuchMemoryUsage, "constant memory usage exceeds %d", constantMaxMemory)
		}

		c := entry.cell
		switch c.Kind() {
		case value.CellStruct:
			id, _ := c.StructID()
			fields, _ := c.Fields()
			schema, ok := v.findStruct(id)
			if !ok {
				return 0, fail(KindUnknownStructOrEnum, "struct %d", id)
			}
			if len(fields) != len(schema.Fields) {
				return 0, fail(KindIncorrectFields, "struct %d", id)
			}
			for _, p := range fields {
				child, err := readPointer(p)
				if err != nil {
					return 0, err
				}
				stack = append(stack, stackEntry{cell: child, depth: entry.depth + 1})
			}
			memory += 8

		case value.CellEnum:
			id, _ := c.EnumID()
			variantID, _ := c.Variant()
			fields, _ := c.VariantFields()
			schema, ok := v.findEnum(id)
			if !ok {
				return 0, fail(KindUnknownStructOrEnum, "enum %d", id)
			}
			variant, ok := schema.Variant(variantID)
			if !ok {
				return 0, fail(KindIncorrectVariant, "enum %d variant %d", id, variantID)
			}
			if len(fields) != len(variant.Fields) {
				return 0, fail(KindIncorrectFields, "enum %d", id)
			}
			for _, p := range fields {
				child, err := readPointer(p)
				if err != nil {
					return 0, err
				}
				stack = append(stack, stackEntry{cell: child, depth: entry.depth + 1})
			}
			memory += 10

		case value.CellArray:
			elems, _ := c.Elements()
			for _, p := range elems {
				child, err := readPointer(p)
				if err != nil {
					return 0, err
				}
				stack = append(stack, stackEntry{cell: child, depth: entry.depth + 1})
			}
			memory += 4

		case value.CellMap:
			keys := c.MapKeys()
			for _, k := range keys {
				p, _, _ := c.MapGet(k)
				child, err := readPointer(p)
				if err != nil {
					return 0, err
				}
				stack = append(stack, stackEntry{cell: value.NewDefault(k), depth: entry.depth + 1})
				stack = append(stack, stackEntry{cell: child, depth: entry.depth + 1})
			}
			memory += 16

		case value.CellOptional:
			some, _ := c.IsSome()
			if some {
				memory++
				inner, _ := c.Unwrap()
				child, err := readPointer(inner)
				if err != nil {
					return 0, err
				}
				stack = append(stack, stackEntry{cell: child, depth: entry.depth + 1})
			}

		case value.CellDefault:
			dv, _ := c.DefaultValue()
			w, err := defaultValueWeight(dv)
			if err != nil {
				return 0, err
			}
			memory += w
		}
	}

	return memory, nil
}

func defaultValueWeight(v value.Value) (int, error) {
	switch v.Kind() {
	case value.KindRange:
		start, end, _ := v.RangeBounds()
		if !start.IsNumber() || !end.IsNumber() {
			return 0, fail(KindInvalidRange, "range endpoints must be numeric")
		}
		if start.Kind() != end.Kind() {
			return 0, fail(KindInvalidRangeType, "range endpoints must share a type")
		}
		return 4, nil
	case value.KindNull, value.KindBool, value.KindU8:
		return 1, nil
	case value.KindU16:
		return 2, nil
	case value.KindU32:
		return 4, nil
	case value.KindU64:
		return 8, nil
	case value.KindU128:
		return 16, nil
	case value.KindU256:
		return 32, nil
	case value.KindString:
		s, _ := v.Str()
		return len(s), nil
	default:
		return 1, nil
	}
}

func readPointer(p value.Pointer) (value.Cell, error) {
	var c value.Cell
	err := p.WithRead(func(cell *value.Cell) error {
		c = *cell
		return nil
	})
	return c, err
}

// verifyConstants runs verifyValue over every top-level constant,
// enforcing the cumulative memory budget across the whole constant
// pool, not per constant.
func (v *ModuleValidator) verifyConstants() error {
	total := 0
	for _, c := range v.module.Constants {
		w, err := v.verifyValue(c)
		if err != nil {
			return err
		}
		total += w
		if total > constantMaxMemory {
			return fail(KindTooMuchMemoryUsage, "constant pool exceeds %d bytes", constantMaxMemory)
		}
	}
	return nil
}

// verifyChunks byte-decodes every chunk with the shared opcode.Reader,
// rejecting an unknown opcode tag or a truncated operand.
func (v *ModuleValidator) verifyChunks() error {
	for i, chunk := range v.module.Chunks {
		r := opcode.NewReader(chunk)
		for !r.AtEnd() {
			op, err := r.ReadOp()
			if err != nil {
				return fail(KindInvalidOpCodeArguments, "chunk %d: truncated opcode", i)
			}
			if !opcode.IsValid(byte(op)) {
				return fail(KindInvalidOpCode, "chunk %d at byte %d: unknown opcode %d", i, r.Pos()-1, op)
			}
			n, _ := opcode.ArgumentBytes(op)
			if err := r.Advance(int(n)); err != nil {
				return fail(KindInvalidOpCodeArguments, "chunk %d: %s missing operand bytes", i, op)
			}
		}
	}
	return nil
}

func (v *ModuleValidator) findStruct(id uint16) (qtype.StructSchema, bool) {
	for _, s := range v.module.Structs {
		if s.ID == id {
			return s, true
		}
	}
	if v.env != nil {
		for _, s := range v.env.Structs() {
			if s.ID == id {
				return s, true
			}
		}
	}
	return qtype.StructSchema{}, false
}

func (v *ModuleValidator) findEnum(id uint16) (qtype.EnumSchema, bool) {
	for _, e := range v.module.Enums {
		if e.ID == id {
			return e, true
		}
	}
	if v.env != nil {
		for _, e := range v.env.Enums() {
			if e.ID == id {
				return e, true
			}
		}
	}
	return qtype.EnumSchema{}, false
}
