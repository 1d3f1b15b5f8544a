package iso8211

import "testing"

func mustFieldDefn(t *testing.T, tag, arrayDesc string, structure DataStructure, formatControls string) *FieldDefn {
	t.Helper()
	fd, err := NewFieldDefn(tag, tag+" name", arrayDesc, structure, TypeCharString, formatControls)
	if err != nil {
		t.Fatalf("NewFieldDefn(%s): %v", tag, err)
	}
	return fd
}

func TestFieldSubfieldDataVariableWidth(t *testing.T) {
	fd := mustFieldDefn(t, "ATTF", "NAME!VALUE", StructVector, "(A,A)")
	rec := &Record{buf: []byte("foo\x1fbar\x1e")}
	f := &Field{Defn: fd}
	f.bindTo(rec, 0, len(rec.buf))

	sfName := fd.FindSubfieldDefn("NAME")
	sfValue := fd.FindSubfieldDefn("VALUE")
	if sfName == nil || sfValue == nil {
		t.Fatalf("subfields not found: %+v", fd.Subfields)
	}

	data, ok := f.SubfieldData(sfName, 0)
	if !ok || string(data) != "foo\x1fbar\x1e" {
		t.Fatalf("NAME data = %q, ok=%v", data, ok)
	}
	data, ok = f.SubfieldData(sfValue, 0)
	if !ok || string(data) != "bar\x1e" {
		t.Fatalf("VALUE data = %q, ok=%v", data, ok)
	}
}

func TestFieldInstanceDataNonRepeating(t *testing.T) {
	fd := mustFieldDefn(t, "ATTF", "NAME!VALUE", StructVector, "(A,A)")
	raw := "foo\x1fbar\x1e"
	rec := &Record{buf: []byte(raw)}
	f := &Field{Defn: fd}
	f.bindTo(rec, 0, len(raw))

	data, ok := f.InstanceData(0)
	if !ok || string(data) != raw {
		t.Fatalf("InstanceData = %q, ok=%v, want %q", data, ok, raw)
	}
}

func TestFieldRepeatCountFixedWidth(t *testing.T) {
	fd := mustFieldDefn(t, "SG2D", "*XCOO!YCOO", StructArray, "(I(2),I(3))")
	if !fd.Repeating {
		t.Fatalf("expected repeating field from '*' array descriptor")
	}
	if fd.FixedWidth != 5 {
		t.Fatalf("FixedWidth = %d, want 5", fd.FixedWidth)
	}

	rec := &Record{buf: []byte("10020" + "20030")}
	f := &Field{Defn: fd}
	f.bindTo(rec, 0, 10)

	if got := f.RepeatCount(); got != 2 {
		t.Fatalf("RepeatCount = %d, want 2", got)
	}

	sfY := fd.FindSubfieldDefn("YCOO")
	data, ok := f.SubfieldData(sfY, 1)
	if !ok || string(data) != "030" {
		t.Fatalf("YCOO[1] = %q, ok=%v, want \"030\"", data, ok)
	}
}
