package iso8211

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCatalogWriterEndToEnd mirrors the mkcatalog/mk_s57 fixture: build a
// module's field definitions programmatically, write three data records
// exercising binary ints, floats, strings, and a repeating coordinate
// field, then reopen the file and confirm every subfield round-trips.
func TestCatalogWriterEndToEnd(t *testing.T) {
	ctx := context.Background()

	fd0001, err := NewFieldDefn("0001", "ISO 8211 Record Identifier", "", StructElementary, TypeBitString, "(b12)")
	require.NoError(t, err)

	fdDSID, err := NewFieldDefn("DSID", "Data set identification field", "", StructVector, TypeMixedDataType, "")
	require.NoError(t, err)
	for _, sf := range [][2]string{
		{"RCNM", "b11"}, {"RCID", "b14"}, {"EXPP", "b11"}, {"INTU", "b11"},
		{"DSNM", "A"}, {"EDTN", "A"}, {"UPDN", "A"}, {"UADT", "A(8)"}, {"ISDT", "A(8)"},
		{"STED", "R(4)"}, {"PRSP", "b11"}, {"PSDN", "A"}, {"PRED", "A"}, {"PROF", "b11"},
		{"AGEN", "b12"}, {"COMT", "A"},
	} {
		require.NoError(t, fdDSID.AddSubfield(sf[0], sf[1]))
	}

	fdDSSI, err := NewFieldDefn("DSSI", "Data set structure information field", "", StructVector, TypeMixedDataType, "")
	require.NoError(t, err)
	for _, sf := range [][2]string{
		{"DSTR", "b11"}, {"AALL", "b11"}, {"NALL", "b11"}, {"NOMR", "b14"}, {"NOCR", "b14"},
		{"NOGR", "b14"}, {"NOLR", "b14"}, {"NOIN", "b14"}, {"NOCN", "b14"}, {"NOED", "b14"}, {"NOFA", "b14"},
	} {
		require.NoError(t, fdDSSI.AddSubfield(sf[0], sf[1]))
	}

	fdDSPM, err := NewFieldDefn("DSPM", "Data set parameter field", "", StructVector, TypeMixedDataType, "")
	require.NoError(t, err)
	for _, sf := range [][2]string{
		{"RCNM", "b11"}, {"RCID", "b14"}, {"HDAT", "b11"}, {"VDAT", "b11"}, {"SDAT", "b11"},
		{"CSCL", "b14"}, {"DUNI", "b11"}, {"HUNI", "b11"}, {"PUNI", "b11"}, {"COUN", "b11"},
		{"COMF", "b14"}, {"SOMF", "b14"},
	} {
		require.NoError(t, fdDSPM.AddSubfield(sf[0], sf[1]))
	}

	fdVRID, err := NewFieldDefn("VRID", "Vector record identifier field", "", StructVector, TypeMixedDataType, "")
	require.NoError(t, err)
	for _, sf := range [][2]string{{"RCNM", "b11"}, {"RCID", "b14"}, {"RVER", "b12"}, {"RUIN", "b11"}} {
		require.NoError(t, fdVRID.AddSubfield(sf[0], sf[1]))
	}

	fdSG3D, err := NewFieldDefn("SG3D", "3-D coordinate (sounding array) field", "*", StructVector, TypeMixedDataType, "")
	require.NoError(t, err)
	for _, sf := range [][2]string{{"YCOO", "b24"}, {"XCOO", "b24"}, {"VE3D", "b24"}} {
		require.NoError(t, fdSG3D.AddSubfield(sf[0], sf[1]))
	}
	require.True(t, fdSG3D.Repeating)

	path := filepath.Join(t.TempDir(), "out.000")
	m, err := Create(ctx, path, WithFieldDefns(fd0001, fdDSID, fdDSSI, fdDSPM, fdVRID, fdSG3D))
	require.NoError(t, err)

	writeIDRecord := func(recID byte, fill func(rec *Record)) {
		rec := &Record{module: m}
		f, err := rec.AddField(fd0001)
		require.NoError(t, err)
		require.NoError(t, rec.SetFieldRaw(f, 0, []byte{recID, 0}))
		fill(rec)
		require.NoError(t, rec.Write(ctx))
	}

	writeIDRecord(1, func(rec *Record) {
		_, err := rec.AddField(fdDSID)
		require.NoError(t, err)
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "RCNM", 0, 10))
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "RCID", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "EXPP", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "INTU", 0, 4))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "DSNM", 0, "GB4X0000.000"))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "EDTN", 0, "2"))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "UPDN", 0, "0"))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "UADT", 0, "20010409"))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "ISDT", 0, "20010409"))
		require.NoError(t, rec.SetFloatSubfield("DSID", 0, "STED", 0, 3.1))
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "PRSP", 0, 1))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "PSDN", 0, ""))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "PRED", 0, "2.0"))
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "PROF", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSID", 0, "AGEN", 0, 540))
		require.NoError(t, rec.SetStringSubfield("DSID", 0, "COMT", 0, ""))

		_, err = rec.AddField(fdDSSI)
		require.NoError(t, err)
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "DSTR", 0, 2))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "AALL", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NALL", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOMR", 0, 22))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOCR", 0, 0))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOGR", 0, 2141))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOLR", 0, 15))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOIN", 0, 512))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOCN", 0, 2181))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOED", 0, 3192))
		require.NoError(t, rec.SetIntSubfield("DSSI", 0, "NOFA", 0, 0))
	})

	writeIDRecord(2, func(rec *Record) {
		_, err := rec.AddField(fdDSPM)
		require.NoError(t, err)
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "RCNM", 0, 20))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "RCID", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "HDAT", 0, 2))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "VDAT", 0, 17))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "SDAT", 0, 23))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "CSCL", 0, 52000))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "DUNI", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "HUNI", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "PUNI", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "COUN", 0, 1))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "COMF", 0, 1000000))
		require.NoError(t, rec.SetIntSubfield("DSPM", 0, "SOMF", 0, 10))
	})

	writeIDRecord(3, func(rec *Record) {
		_, err := rec.AddField(fdVRID)
		require.NoError(t, err)
		require.NoError(t, rec.SetIntSubfield("VRID", 0, "RCNM", 0, 110))
		require.NoError(t, rec.SetIntSubfield("VRID", 0, "RCID", 0, 518))
		require.NoError(t, rec.SetIntSubfield("VRID", 0, "RVER", 0, 1))
		require.NoError(t, rec.SetIntSubfield("VRID", 0, "RUIN", 0, 1))

		_, err = rec.AddField(fdSG3D)
		require.NoError(t, err)
		require.NoError(t, rec.SetIntSubfield("SG3D", 0, "YCOO", 0, -325998702))
		require.NoError(t, rec.SetIntSubfield("SG3D", 0, "XCOO", 0, 612175350))
		require.NoError(t, rec.SetIntSubfield("SG3D", 0, "VE3D", 0, 174))
		require.NoError(t, rec.SetIntSubfield("SG3D", 0, "YCOO", 1, -325995189))
		require.NoError(t, rec.SetIntSubfield("SG3D", 0, "XCOO", 1, 612228812))
		require.NoError(t, rec.SetIntSubfield("SG3D", 0, "VE3D", 1, 400))
	})

	require.NoError(t, m.Close())

	m2, err := Open(ctx, path)
	require.NoError(t, err)
	defer m2.Close()

	rec1, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec1)
	v, err := rec1.GetStringSubfield("DSID", 0, "DSNM", 0)
	require.NoError(t, err)
	require.Equal(t, "GB4X0000.000", v)
	fv, err := rec1.GetFloatSubfield("DSID", 0, "STED", 0)
	require.NoError(t, err)
	require.InDelta(t, 3.1, fv, 0.001)
	iv, err := rec1.GetIntSubfield("DSSI", 0, "NOGR", 0)
	require.NoError(t, err)
	require.EqualValues(t, 2141, iv)

	rec2, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec2)
	iv, err = rec2.GetIntSubfield("DSPM", 0, "CSCL", 0)
	require.NoError(t, err)
	require.EqualValues(t, 52000, iv)

	rec3, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec3)
	iv, err = rec3.GetIntSubfield("VRID", 0, "RCID", 0)
	require.NoError(t, err)
	require.EqualValues(t, 518, iv)

	sg3d, ok := rec3.FindField("SG3D", 0)
	require.True(t, ok)
	require.Equal(t, 2, sg3d.RepeatCount())

	y0, err := rec3.GetIntSubfield("SG3D", 0, "YCOO", 0)
	require.NoError(t, err)
	require.EqualValues(t, -325998702, y0)
	y1, err := rec3.GetIntSubfield("SG3D", 0, "YCOO", 1)
	require.NoError(t, err)
	require.EqualValues(t, -325995189, y1)
	ve3d1, err := rec3.GetIntSubfield("SG3D", 0, "VE3D", 1)
	require.NoError(t, err)
	require.EqualValues(t, 400, ve3d1)

	rec4, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.Nil(t, rec4)
}
