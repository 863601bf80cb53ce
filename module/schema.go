package module

import "github.com/quartz-lang/quartzvm/qtype"

func encodeStructSchema(buf []byte, s qtype.StructSchema) []byte {
	buf = append(buf, uint8(len(s.Fields)))
	for _, f := range s.Fields {
		buf = encodeType(buf, f)
	}
	return buf
}

func decodeStructSchema(r *byteReader, id uint16) (qtype.StructSchema, error) {
	n, err := r.u8()
	if err != nil {
		return qtype.StructSchema{}, err
	}
	fields := make([]qtype.Type, 0, n)
	for i := 0; i < int(n); i++ {
		t, err := decodeType(r)
		if err != nil {
			return qtype.StructSchema{}, err
		}
		fields = append(fields, t)
	}
	return qtype.StructSchema{ID: id, Fields: fields}, nil
}

func encodeEnumSchema(buf []byte, e qtype.EnumSchema) []byte {
	buf = append(buf, uint8(len(e.Variants)))
	for _, v := range e.Variants {
		buf = append(buf, uint8(len(v.Fields)))
		for _, f := range v.Fields {
			buf = encodeType(buf, f)
		}
	}
	return buf
}

func decodeEnumSchema(r *byteReader, id uint16) (qtype.EnumSchema, error) {
	n, err := r.u8()
	if err != nil {
		return qtype.EnumSchema{}, err
	}
	variants := make([]qtype.EnumVariant, 0, n)
	for i := 0; i < int(n); i++ {
		fc, err := r.u8()
		if err != nil {
			return qtype.EnumSchema{}, err
		}
		fields := make([]qtype.Type, 0, fc)
		for j := 0; j < int(fc); j++ {
			t, err := decodeType(r)
			if err != nil {
				return qtype.EnumSchema{}, err
			}
			fields = append(fields, t)
		}
		variants = append(variants, qtype.EnumVariant{Fields: fields})
	}
	return qtype.EnumSchema{ID: id, Variants: variants}, nil
}
