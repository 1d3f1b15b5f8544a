package iso8211

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeGarbageLeader(path string) error {
	ld := leader{
		RecordLength:         24,
		InterchangeLevel:     '3',
		LeaderIdentifier:     'D',
		CodeExtension:        ' ',
		VersionNumber:        '1',
		ApplicationIndicator: ' ',
		FieldControlLength:   9,
		FieldAreaStart:       24,
		ExtendedCharSet:      "   ",
		SizeFieldLength:      5,
		SizeFieldPos:         5,
		SizeFieldTag:         4,
	}
	buf, err := ld.encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func TestModuleCreateWritesDDRAndReopens(t *testing.T) {
	fd, err := NewFieldDefn("DSID", "Data set id", "RCNM!RCID", StructVector, TypeCharString, "(I(2),I(10))")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.000")
	ctx := context.Background()

	m, err := Create(ctx, path, WithFieldDefns(fd))
	require.NoError(t, err)

	rec := &Record{module: m}
	_, err = rec.AddField(fd)
	require.NoError(t, err)
	require.NoError(t, rec.SetIntSubfield("DSID", 0, "RCID", 0, 42))
	require.NoError(t, rec.Write(ctx))
	require.NoError(t, m.Close())

	m2, err := Open(ctx, path)
	require.NoError(t, err)
	defer m2.Close()

	got := m2.FindFieldDefn("dsid")
	require.NotNil(t, got)
	require.Equal(t, "DSID", got.Tag)

	r, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)

	v, err := r.GetIntSubfield("DSID", 0, "RCID", 0)
	require.NoError(t, err)
	require.EqualValues(t, 42, v)

	r2, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.Nil(t, r2)
}

func TestModuleRewindRereadsFirstRecord(t *testing.T) {
	fd, err := NewFieldDefn("0001", "File control", "N", StructVector, TypeCharString, "(I(3))")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.000")
	ctx := context.Background()
	m, err := Create(ctx, path, WithFieldDefns(fd))
	require.NoError(t, err)

	rec := &Record{module: m}
	_, err = rec.AddField(fd)
	require.NoError(t, err)
	require.NoError(t, rec.SetIntSubfield("0001", 0, "N", 0, 7))
	require.NoError(t, rec.Write(ctx))
	require.NoError(t, m.Close())

	m2, err := Open(ctx, path)
	require.NoError(t, err)
	defer m2.Close()

	r, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)

	require.NoError(t, m2.Rewind(ctx))
	r2, err := m2.ReadRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, r2)

	v, err := r2.GetIntSubfield("0001", 0, "N", 0)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestModuleAddFieldDefnRejectsDuplicateTag(t *testing.T) {
	fd, err := NewFieldDefn("DSID", "Data set id", "RCNM", StructVector, TypeCharString, "(I(2))")
	require.NoError(t, err)
	m := NewModule()
	require.NoError(t, m.AddFieldDefn(fd))

	dup, err := NewFieldDefn("DSID", "dup", "RCNM", StructVector, TypeCharString, "(I(2))")
	require.NoError(t, err)
	err = m.AddFieldDefn(dup)
	require.Error(t, err)
}

func TestModuleOpenRejectsNonDDRLeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.000")
	require.NoError(t, writeGarbageLeader(path))

	_, err := Open(context.Background(), path)
	require.Error(t, err)
}
