package iso8211

// Field is a borrowed view over one field instance inside a Record: the
// FieldDefn that describes its subfields, plus the byte range within the
// owning Record's buffer. The range is tracked as an offset/length pair
// rather than a raw slice so that a buffer reallocation only needs its
// offset/length rebound (see SPEC_FULL.md §9's Go strategy for
// DDFField's raw-pointer-into-buffer model).
type Field struct {
	Defn *FieldDefn

	record *Record
	offset int
	length int
}

// Bytes returns the field's current byte range, re-sliced against the
// Record's live buffer so it always reflects the most recent reallocation.
func (f *Field) Bytes() []byte {
	return f.record.buf[f.offset : f.offset+f.length]
}

// Len reports the field's current byte length.
func (f *Field) Len() int { return f.length }

// SubfieldData returns the bytes belonging to the subfieldIndex-th
// occurrence of sf within this field, ported from DDFField::GetSubfieldData:
// for fixed-width fields this jumps directly to subfieldIndex*FixedWidth and
// treats the index as the first occurrence from there; otherwise it walks
// subfield by subfield via GetDataLength, accounting for one full
// repetition per index. Returns nil, false if the subfield or index isn't
// present.
func (f *Field) SubfieldData(sf *SubfieldDefn, subfieldIndex int) ([]byte, bool) {
	offset, ok := f.subfieldOffset(sf, subfieldIndex)
	if !ok {
		return nil, false
	}
	return f.Bytes()[offset:], true
}

// subfieldOffset is the offset-returning core of SubfieldData, factored out
// so record.go's splicing operations (which need the offset, not just the
// trailing slice) don't have to re-derive it via pointer arithmetic.
func (f *Field) subfieldOffset(sf *SubfieldDefn, subfieldIndex int) (offset int, ok bool) {
	data := f.Bytes()
	base := 0

	if subfieldIndex > 0 && f.Defn.FixedWidth > 0 {
		base = f.Defn.FixedWidth * subfieldIndex
		subfieldIndex = 0
	}

	for subfieldIndex >= 0 {
		for _, candidate := range f.Defn.Subfields {
			if candidate == sf && subfieldIndex == 0 {
				if base > len(data) {
					return 0, false
				}
				return base, true
			}
			if base > len(data) {
				return 0, false
			}
			_, consumed, _ := candidate.GetDataLength(data[base:], len(data)-base)
			base += consumed
		}
		subfieldIndex--
	}
	return 0, false
}

// RepeatCount reports how many times this field's subfield group repeats,
// ported from DDFField::GetRepeatCount. Non-repeating fields always report
// one. Fixed-width repeating fields divide the field's byte length by the
// per-iteration width. Variable-width repeating fields walk iteration by
// iteration, pretending a subfield consumed its full declared width
// whenever that would overrun the field's remaining bytes, purely to detect
// the overrun and back the count off by one.
func (f *Field) RepeatCount() int {
	if !f.Defn.Repeating {
		return 1
	}
	data := f.Bytes()
	if f.Defn.FixedWidth > 0 {
		return len(data) / f.Defn.FixedWidth
	}

	offset := 0
	repeatCount := 1
	for {
		for _, sf := range f.Defn.Subfields {
			var consumed int
			if sf.Width() > len(data)-offset {
				consumed = sf.Width()
			} else {
				_, consumed, _ = sf.GetDataLength(data[offset:], len(data)-offset)
			}
			offset += consumed
			if offset > len(data) {
				return repeatCount - 1
			}
		}
		if offset > len(data)-2 {
			return repeatCount
		}
		repeatCount++
	}
}

// InstanceData returns the byte span of one repeating iteration: from its
// first subfield's offset through its last subfield's consumed length,
// including interior unit-terminators. When the last subfield is
// delimiter-terminated, a field-terminator it consumes (as its delimiter,
// or directly after its unit-terminator) is part of the span. Ported from
// DDFField::GetInstanceData.
func (f *Field) InstanceData(iteration int) ([]byte, bool) {
	offset, size, ok := f.instanceSpan(iteration)
	if !ok {
		return nil, false
	}
	return f.Bytes()[offset : offset+size], true
}

// instanceSpan is the offset-returning core of InstanceData; record.go's
// SetFieldRaw/UpdateFieldRaw splice relative to this span, not just its
// byte contents.
func (f *Field) instanceSpan(iteration int) (offset, size int, ok bool) {
	if len(f.Defn.Subfields) == 0 {
		return 0, f.length, true
	}

	first := f.Defn.Subfields[0]
	off1, ok := f.subfieldOffset(first, iteration)
	if !ok {
		return 0, 0, false
	}

	last := f.Defn.Subfields[len(f.Defn.Subfields)-1]
	off2, ok := f.subfieldOffset(last, iteration)
	if !ok {
		return 0, 0, false
	}
	data := f.Bytes()
	_, lastConsumed, _ := last.GetDataLength(data[off2:], len(data)-off2)

	size = off2 + lastConsumed - off1
	data1Len := len(data) - off1
	if size < 0 || size > data1Len {
		return 0, 0, false
	}
	return off1, size, true
}

// bindTo rebinds this field to a (possibly reallocated) record buffer.
func (f *Field) bindTo(rec *Record, offset, length int) {
	f.record = rec
	f.offset = offset
	f.length = length
}
