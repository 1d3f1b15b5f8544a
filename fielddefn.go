package iso8211

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DataStructure is the ISO/IEC 8211 data structure code carried in a field
// definition's control byte.
type DataStructure int

const (
	StructElementary DataStructure = iota
	StructVector
	StructArray
	StructConcatenated
)

// DataType is the ISO/IEC 8211 data type code carried in a field
// definition's control byte.
type DataType int

const (
	TypeCharString DataType = iota
	TypeImplicitPoint
	TypeExplicitPoint
	TypeExplicitPointScaled
	TypeCharBitString
	TypeBitString
	TypeMixedDataType
)

// FieldDefn describes the shape of one field: its tag, the data structure
// and type it carries, and (for non-elementary structures) the ordered
// list of subfields its instances are split into.
type FieldDefn struct {
	Tag             string
	Name            string
	ArrayDescriptor string
	FormatControls  string
	Structure       DataStructure
	Type            DataType
	Repeating       bool
	FixedWidth      int // 0 if any subfield is variable-width

	Subfields []*SubfieldDefn
}

// NewFieldDefn builds a field definition programmatically, mirroring the
// constructor ISO 8211 writers call before emitting a DDR. When formatControls
// is non-empty it is parsed immediately against arrayDescriptor; otherwise
// the caller is expected to follow up with AddSubfield calls.
func NewFieldDefn(tag, name, arrayDescriptor string, structure DataStructure, dtype DataType, formatControls string) (*FieldDefn, error) {
	fd := &FieldDefn{
		Tag:             tag,
		Name:            name,
		ArrayDescriptor: arrayDescriptor,
		FormatControls:  formatControls,
		Structure:       structure,
		Type:            dtype,
	}
	if structure == StructElementary {
		return fd, nil
	}
	if err := fd.buildSubfields(); err != nil {
		return nil, err
	}
	if formatControls != "" {
		if err := fd.applyFormats(); err != nil {
			return nil, err
		}
	}
	return fd, nil
}

// AddSubfield appends one subfield with the given name and format token,
// keeping ArrayDescriptor and FormatControls consistent with Subfields.
func (fd *FieldDefn) AddSubfield(name, format string) error {
	sf := &SubfieldDefn{Name: name}
	if err := sf.SetFormat(format); err != nil {
		return err
	}
	fd.Subfields = append(fd.Subfields, sf)

	if fd.ArrayDescriptor == "" || fd.ArrayDescriptor == "*" {
		fd.ArrayDescriptor = fd.ArrayDescriptor + name
	} else {
		fd.ArrayDescriptor = fd.ArrayDescriptor + "!" + name
	}
	if fd.FormatControls == "" {
		fd.FormatControls = "(" + format + ")"
	} else {
		fd.FormatControls = fd.FormatControls[:len(fd.FormatControls)-1] + "," + format + ")"
	}
	fd.recomputeFixedWidth()
	return nil
}

func (fd *FieldDefn) recomputeFixedWidth() {
	width := 0
	for _, sf := range fd.Subfields {
		if sf.Width() == 0 {
			fd.FixedWidth = 0
			return
		}
		width += sf.Width()
	}
	fd.FixedWidth = width
}

// FindSubfieldDefn looks up a subfield by case-insensitive name.
func (fd *FieldDefn) FindSubfieldDefn(name string) *SubfieldDefn {
	for _, sf := range fd.Subfields {
		if strings.EqualFold(sf.Name, name) {
			return sf
		}
	}
	return nil
}

// GetDefaultValue concatenates each subfield's default bytes, used to seed
// a freshly added field instance.
func (fd *FieldDefn) GetDefaultValue() []byte {
	if len(fd.Subfields) == 0 {
		return []byte{}
	}
	var buf []byte
	for _, sf := range fd.Subfields {
		buf = append(buf, sf.GetDefaultValue()...)
	}
	return buf
}

// initializeFromDDR parses one DDR directory-referenced field entry: the
// fixed control bytes, then the name / array-descriptor / format-controls
// triplet delimited by unit and field terminators.
func (fd *FieldDefn) initializeFromDDR(tag string, entry []byte, fieldControlLength int) error {
	fd.Tag = tag

	structByte, typeByte := byte(' '), byte(' ')
	if fieldControlLength > 0 && len(entry) > 0 {
		structByte = entry[0]
	}
	if fieldControlLength > 1 && len(entry) > 1 {
		typeByte = entry[1]
	}
	fd.Structure = decodeStructureCode(structByte)
	fd.Type = decodeTypeCode(typeByte)

	rest := entry
	if fieldControlLength < len(entry) {
		rest = entry[fieldControlLength:]
	} else {
		rest = nil
	}

	name, consumed := fetchVariable(rest, len(rest)+1, unitTerminator, fieldTerminator)
	fd.Name = name
	rest = rest[consumed:]

	arrayDesc, consumed := fetchVariable(rest, len(rest)+1, unitTerminator, fieldTerminator)
	fd.ArrayDescriptor = arrayDesc
	rest = rest[consumed:]

	formatControls, _ := fetchVariable(rest, len(rest)+1, unitTerminator, fieldTerminator)
	fd.FormatControls = formatControls

	if fd.Structure == StructElementary {
		fd.Subfields = nil
		return nil
	}
	if err := fd.buildSubfields(); err != nil {
		return err
	}
	if fd.FormatControls == "" {
		return nil
	}
	return fd.applyFormats()
}

// buildSubfields normalizes the array descriptor: everything up to and
// including the last '*' is a repetition marker and is discarded, and the
// remainder is split on '!' into subfield names.
func (fd *FieldDefn) buildSubfields() error {
	desc := fd.ArrayDescriptor
	if idx := strings.LastIndexByte(desc, '*'); idx >= 0 {
		fd.Repeating = true
		desc = desc[idx+1:]
	}
	if desc == "" {
		fd.Subfields = nil
		return nil
	}
	names := strings.Split(desc, "!")
	fd.Subfields = make([]*SubfieldDefn, len(names))
	for i, nm := range names {
		fd.Subfields[i] = &SubfieldDefn{Name: nm}
	}
	return nil
}

// applyFormats expands the bracketed, possibly nested format-controls
// string and assigns one expanded format token per subfield in order.
func (fd *FieldDefn) applyFormats() error {
	fc := strings.TrimSpace(fd.FormatControls)
	if !strings.HasPrefix(fc, "(") || !strings.HasSuffix(fc, ")") {
		return wrapf(ErrFormatParse, "field %s format controls %q not bracketed", fd.Tag, fc)
	}
	expanded, err := expandFormat(fc[1 : len(fc)-1])
	if err != nil {
		return wrapf(err, "field %s", fd.Tag)
	}
	items := splitTopLevel(expanded, ',')
	for i, it := range items {
		j := 0
		for j < len(it) && it[j] >= '0' && it[j] <= '9' {
			j++
		}
		items[i] = it[j:]
	}

	n := len(items)
	if n > len(fd.Subfields) {
		n = len(fd.Subfields)
	} else if n < len(fd.Subfields) {
		return wrapf(ErrFormatParse, "field %s has %d subfields but only %d format items", fd.Tag, len(fd.Subfields), n)
	}
	for i := 0; i < n; i++ {
		if err := fd.Subfields[i].SetFormat(items[i]); err != nil {
			return wrapf(err, "field %s subfield %s", fd.Tag, fd.Subfields[i].Name)
		}
	}
	fd.recomputeFixedWidth()
	return nil
}

// expandFormat recursively expands nested parenthesized groups and numeric
// repeat-count prefixes into a flat, comma-separated list of format tokens.
func expandFormat(s string) (string, error) {
	var out strings.Builder
	first := true
	writeComma := func() {
		if !first {
			out.WriteByte(',')
		}
		first = false
	}

	i := 0
	for i < len(s) {
		switch {
		case s[i] == ',':
			i++
		case s[i] == '(':
			j, err := matchParen(s, i)
			if err != nil {
				return "", err
			}
			inner, err := expandFormat(s[i+1 : j])
			if err != nil {
				return "", err
			}
			writeComma()
			out.WriteString(inner)
			i = j + 1
		case s[i] >= '0' && s[i] <= '9':
			k := i
			for k < len(s) && s[k] >= '0' && s[k] <= '9' {
				k++
			}
			count, _ := strconv.Atoi(s[i:k])
			if k < len(s) && s[k] == '(' {
				j, err := matchParen(s, k)
				if err != nil {
					return "", err
				}
				inner, err := expandFormat(s[k+1 : j])
				if err != nil {
					return "", err
				}
				for c := 0; c < count; c++ {
					writeComma()
					out.WriteString(inner)
				}
				i = j + 1
			} else {
				// Parens-less repeat form, e.g. "2b24" -> "b24,b24".
				j := k
				for j < len(s) && s[j] != ',' {
					j++
				}
				token := s[k:j]
				for c := 0; c < count; c++ {
					writeComma()
					out.WriteString(token)
				}
				i = j
			}
		default:
			k := i
			for k < len(s) && s[k] != ',' {
				k++
			}
			writeComma()
			out.WriteString(s[i:k])
			i = k
		}
	}
	return out.String(), nil
}

func matchParen(s string, openIdx int) (int, error) {
	depth := 0
	for i := openIdx; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, wrapf(ErrFormatParse, "unbalanced parentheses in %q", s)
}

// splitTopLevel splits on sep but never inside a parenthesized group (used
// once the recursive expansion has already flattened nesting, it degrades
// to a plain split, but stays nesting-safe for defensive callers).
func splitTopLevel(s string, sep byte) []string {
	var items []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				items = append(items, s[start:i])
				start = i + 1
			}
		}
	}
	items = append(items, s[start:])
	return items
}

func decodeStructureCode(b byte) DataStructure {
	switch b {
	case '0', ' ':
		return StructElementary
	case '1':
		return StructVector
	case '2':
		return StructArray
	case '3':
		return StructConcatenated
	default:
		return StructElementary
	}
}

func encodeStructureCode(d DataStructure) byte {
	switch d {
	case StructVector:
		return '1'
	case StructArray:
		return '2'
	case StructConcatenated:
		return '3'
	default:
		return '0'
	}
}

func decodeTypeCode(b byte) DataType {
	switch b {
	case '0', ' ':
		return TypeCharString
	case '1':
		return TypeImplicitPoint
	case '2':
		return TypeExplicitPoint
	case '3':
		return TypeExplicitPointScaled
	case '4':
		return TypeCharBitString
	case '5':
		return TypeBitString
	case '6':
		return TypeMixedDataType
	default:
		return TypeCharString
	}
}

func encodeTypeCode(d DataType) byte {
	switch d {
	case TypeImplicitPoint:
		return '1'
	case TypeExplicitPoint:
		return '2'
	case TypeExplicitPointScaled:
		return '3'
	case TypeCharBitString:
		return '4'
	case TypeBitString:
		return '5'
	case TypeMixedDataType:
		return '6'
	default:
		return '0'
	}
}

// GenerateDDREntry renders the field's DDR directory-referenced entry:
// control bytes, name, array descriptor, optional format controls, and a
// trailing field terminator.
func (fd *FieldDefn) GenerateDDREntry() []byte {
	var buf bytes.Buffer
	buf.WriteByte(encodeStructureCode(fd.Structure))
	buf.WriteByte(encodeTypeCode(fd.Type))
	buf.WriteString("00;&   ")
	buf.WriteString(fd.Name)
	buf.WriteByte(unitTerminator)
	buf.WriteString(fd.ArrayDescriptor)
	if fd.FormatControls != "" {
		buf.WriteByte(unitTerminator)
		buf.WriteString(fd.FormatControls)
	}
	buf.WriteByte(fieldTerminator)
	return buf.Bytes()
}

// Dump writes a short human-readable description of the field definition.
func (fd *FieldDefn) Dump(w io.Writer) {
	fmt.Fprintf(w, "Field %s: %q structure=%d type=%d repeating=%v\n", fd.Tag, fd.Name, fd.Structure, fd.Type, fd.Repeating)
	for _, sf := range fd.Subfields {
		fmt.Fprintf(w, "  subfield %s: format=%q width=%d\n", sf.Name, sf.Format, sf.Width())
	}
}
