package iso8211

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
)

// Module is the top-level handle on one ISO/IEC 8211 file: the decoded DDR
// (field definitions plus the leader parameters that govern directory
// widths for every record in the file) and the open *os.File cursor.
// Ported from DDFModule.
type Module struct {
	file     *os.File
	path     string
	readOnly bool
	log      logr.Logger

	fieldDefns []*FieldDefn

	interchangeLevel     byte
	codeExtension        byte
	versionNumber        byte
	applicationIndicator byte
	fieldControlLength   int
	extendedCharSet      string
	tagWidth             int
	lengthWidth          int
	posWidth             int

	firstRecordOffset int64
	record            *Record
	clones            map[*Record]struct{}
}

// OpenOption configures an Open call.
type OpenOption func(*Module)

// WithOpenLogger injects a structured logger used for non-fatal warnings
// encountered while reading (e.g. malformed subfields).
func WithOpenLogger(log logr.Logger) OpenOption {
	return func(m *Module) { m.log = log }
}

// CreateOption configures a NewModule/Create call.
type CreateOption func(*Module)

// WithCreateLogger injects a structured logger for the new module.
func WithCreateLogger(log logr.Logger) CreateOption {
	return func(m *Module) { m.log = log }
}

// WithInterchangeLevel overrides the default interchange level ('3') used
// when writing the DDR leader.
func WithInterchangeLevel(level byte) CreateOption {
	return func(m *Module) { m.interchangeLevel = level }
}

// WithFieldDefns pre-registers field definitions before the file is
// created, equivalent to calling AddFieldDefn once per entry.
func WithFieldDefns(defns ...*FieldDefn) CreateOption {
	return func(m *Module) { m.fieldDefns = append(m.fieldDefns, defns...) }
}

func newModuleDefaults() *Module {
	return &Module{
		log:                  logr.Discard(),
		interchangeLevel:     '3',
		codeExtension:        ' ',
		versionNumber:        '1',
		applicationIndicator: ' ',
		fieldControlLength:   9,
		extendedCharSet:      "   ",
		tagWidth:             4,
		lengthWidth:          5,
		posWidth:             5,
		clones:               make(map[*Record]struct{}),
	}
}

// Open reads and parses the DDR at the start of path, populating the
// module's field definitions and leaving the file cursor positioned at the
// first data record. Ported from DDFModule::Open.
func Open(ctx context.Context, path string, opts ...OpenOption) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := newModuleDefaults()
	for _, opt := range opts {
		opt(m)
	}
	m.readOnly = true
	m.path = path

	f, err := os.Open(path)
	if err != nil {
		return nil, wrapf(ErrIOShort, "open %s: %v", path, err)
	}
	m.file = f

	if err := m.readDDR(); err != nil {
		f.Close()
		return nil, err
	}
	off, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, wrapf(ErrIOShort, "tell after DDR: %v", err)
	}
	m.firstRecordOffset = off
	m.record = &Record{module: m}
	return m, nil
}

// readDDR parses the leader plus directory at the current file position
// (which must be byte 0) as a Data Descriptive Record.
func (m *Module) readDDR() error {
	var lb [leaderSize]byte
	if _, err := io.ReadFull(m.file, lb[:]); err != nil {
		return wrapf(ErrLeaderCorrupt, "DDR leader short: %v", err)
	}
	ld, err := decodeLeader(lb[:])
	if err != nil {
		return err
	}
	if err := ld.validateDDR(lb[:]); err != nil {
		return err
	}
	if ld.LeaderIdentifier != 'L' {
		return wrapf(ErrLeaderCorrupt, "first record is not a DDR (leader identifier %q)", string(ld.LeaderIdentifier))
	}
	m.interchangeLevel = ld.InterchangeLevel
	m.codeExtension = ld.CodeExtension
	m.versionNumber = ld.VersionNumber
	m.applicationIndicator = ld.ApplicationIndicator
	m.fieldControlLength = ld.FieldControlLength
	m.extendedCharSet = ld.ExtendedCharSet
	m.tagWidth = ld.SizeFieldTag
	m.lengthWidth = ld.SizeFieldLength
	m.posWidth = ld.SizeFieldPos

	buf, err := readFixedLengthBody(m.file, ld)
	if err != nil {
		return err
	}
	entries, err := walkDirectory(buf, ld)
	if err != nil {
		return err
	}
	for _, e := range entries {
		off := ld.FieldAreaStart + e.position - leaderSize
		if off < 0 || off+e.length > len(buf) {
			m.logWarn(wrapf(ErrFieldPositionOutOfRange, "DDR field %q exceeds record body", e.tag))
			continue
		}
		fd := &FieldDefn{}
		if err := fd.initializeFromDDR(e.tag, buf[off:off+e.length], ld.FieldControlLength); err != nil {
			m.logWarn(wrapf(err, "field %q", e.tag))
			continue
		}
		m.fieldDefns = append(m.fieldDefns, fd)
	}
	return nil
}

// NewModule stages an in-memory module (field definitions only, no backing
// file) so FieldDefns can be registered with AddFieldDefn before CreateFile
// writes the DDR, matching the order GDAL's own writers use (define fields,
// then Create the file).
func NewModule(opts ...CreateOption) *Module {
	m := newModuleDefaults()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddFieldDefn registers one field definition with a module that has not
// yet had CreateFile called on it.
func (m *Module) AddFieldDefn(fd *FieldDefn) error {
	if m.file != nil {
		return wrapf(ErrIOShort, "cannot add field definitions after CreateFile")
	}
	if m.FindFieldDefn(fd.Tag) != nil {
		return wrapf(ErrUndefinedTag, "field tag %q already defined", fd.Tag)
	}
	m.fieldDefns = append(m.fieldDefns, fd)
	return nil
}

// CreateFile opens path for writing and emits the DDR built from the
// field definitions registered so far. Ported from DDFModule::Create.
func (m *Module) CreateFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return wrapf(ErrIOShort, "create %s: %v", path, err)
	}
	m.file = f
	m.path = path
	m.readOnly = false
	m.record = &Record{module: m}

	if err := m.writeDDR(); err != nil {
		f.Close()
		return err
	}
	return nil
}

func (m *Module) directoryWidths() (tagWidth, lengthWidth, posWidth int) {
	return m.tagWidth, m.lengthWidth, m.posWidth
}

func (m *Module) writeDDR() error {
	entryWidth := m.tagWidth + m.lengthWidth + m.posWidth
	dirSize := entryWidth*len(m.fieldDefns) + 1

	var fieldArea []byte
	type span struct{ pos, length int }
	spans := make([]span, len(m.fieldDefns))
	for i, fd := range m.fieldDefns {
		entry := fd.GenerateDDREntry()
		spans[i] = span{pos: len(fieldArea), length: len(entry)}
		fieldArea = append(fieldArea, entry...)
	}

	dir := make([]byte, dirSize)
	for i, fd := range m.fieldDefns {
		if len(fd.Tag) > m.tagWidth {
			return wrapf(ErrFormatOverflow, "tag %q exceeds directory tag width %d", fd.Tag, m.tagWidth)
		}
		entry := fmt.Sprintf("%-*s%0*d%0*d", m.tagWidth, fd.Tag, m.lengthWidth, spans[i].length, m.posWidth, spans[i].pos)
		copy(dir[entryWidth*i:], entry)
	}
	dir[entryWidth*len(m.fieldDefns)] = fieldTerminator

	ld := leader{
		RecordLength:         leaderSize + len(dir) + len(fieldArea),
		InterchangeLevel:     m.interchangeLevel,
		LeaderIdentifier:     'L',
		CodeExtension:        m.codeExtension,
		VersionNumber:        m.versionNumber,
		ApplicationIndicator: m.applicationIndicator,
		FieldControlLength:   m.fieldControlLength,
		FieldAreaStart:       leaderSize + len(dir),
		ExtendedCharSet:      m.extendedCharSet,
		SizeFieldLength:      m.lengthWidth,
		SizeFieldPos:         m.posWidth,
		SizeFieldTag:         m.tagWidth,
	}
	buf, err := ld.encode()
	if err != nil {
		return err
	}
	if _, err := m.file.Write(buf); err != nil {
		return wrapf(ErrIOShort, "write DDR leader: %v", err)
	}
	if _, err := m.file.Write(dir); err != nil {
		return wrapf(ErrIOShort, "write DDR directory: %v", err)
	}
	if _, err := m.file.Write(fieldArea); err != nil {
		return wrapf(ErrIOShort, "write DDR field area: %v", err)
	}
	off, err := m.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return wrapf(ErrIOShort, "tell after DDR write: %v", err)
	}
	m.firstRecordOffset = off
	return nil
}

// Create is sugar for NewModule followed by CreateFile; any WithFieldDefns
// option supplies the definitions to register first.
func Create(ctx context.Context, path string, opts ...CreateOption) (*Module, error) {
	m := NewModule(opts...)
	if err := m.CreateFile(ctx, path); err != nil {
		return nil, err
	}
	return m, nil
}

// Close drops the shared record, the clone registry and the field
// definitions, and releases the underlying file handle.
func (m *Module) Close() error {
	m.record = nil
	m.clones = make(map[*Record]struct{})
	m.fieldDefns = nil
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	if err != nil {
		return wrapf(ErrIOShort, "close %s: %v", m.path, err)
	}
	return nil
}

// ReadRecord reads the next data record into the module's shared Record,
// reusing its backing buffer across calls the way DDFModule::ReadRecord
// reuses poLastRecord. Returns (nil, nil) at clean end of file. Once a
// record read fails, the module drops its shared record and every
// subsequent call returns an error until Rewind, per SPEC_FULL.md's
// stricter contract (no silent EOF after corruption).
func (m *Module) ReadRecord(ctx context.Context) (*Record, error) {
	if m.record == nil {
		return nil, wrapf(ErrIOShort, "module has no active record cursor (poisoned or not opened)")
	}
	err := m.record.read(ctx, m.file)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		m.record = nil
		return nil, err
	}
	return m.record, nil
}

// Rewind repositions the file cursor to the first data record, so the next
// ReadRecord call re-reads from the start.
func (m *Module) Rewind(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.file.Seek(m.firstRecordOffset, io.SeekStart); err != nil {
		return wrapf(ErrIOShort, "rewind: %v", err)
	}
	m.record = &Record{module: m}
	return nil
}

// FindFieldDefn looks up a field definition by tag: an exact match first,
// then a case-insensitive one. Ported from DDFModule::FindFieldDefn (GDAL's GetName() on DDFFieldDefn
// returns the tag, confirmed by mkcatalog.cpp call sites such as
// FindFieldDefn("DSID")).
func (m *Module) FindFieldDefn(tag string) *FieldDefn {
	return m.lookupTag(tag)
}

func (m *Module) lookupTag(tag string) *FieldDefn {
	for _, fd := range m.fieldDefns {
		if fd.Tag == tag {
			return fd
		}
	}
	for _, fd := range m.fieldDefns {
		if strings.EqualFold(fd.Tag, tag) {
			return fd
		}
	}
	return nil
}

func (m *Module) registerClone(r *Record) {
	if m.clones == nil {
		m.clones = make(map[*Record]struct{})
	}
	m.clones[r] = struct{}{}
}

func (m *Module) deregisterClone(r *Record) {
	delete(m.clones, r)
}

func (m *Module) logWarn(err error, keysAndValues ...interface{}) {
	m.log.Info(err.Error(), keysAndValues...)
}

// Dump writes a short human-readable description of the module's field
// definitions.
func (m *Module) Dump(w io.Writer) {
	fmt.Fprintf(w, "Module %s: %d field definitions\n", m.path, len(m.fieldDefns))
	for _, fd := range m.fieldDefns {
		fd.Dump(w)
	}
}
