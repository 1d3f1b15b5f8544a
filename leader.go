package iso8211

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

const (
	unitTerminator  byte = 0x1F
	fieldTerminator byte = 0x1E
	leaderSize           = 24
)

// rawLeader mirrors the 24-byte ISO/IEC 8211 leader exactly; restruct packs
// and unpacks it without any hand-rolled offset bookkeeping.
type rawLeader struct {
	RecordLength         [5]byte
	InterchangeLevel     byte
	LeaderIdentifier     byte
	CodeExtension        byte
	VersionNumber        byte
	ApplicationIndicator byte
	FieldControlLength   [2]byte
	FieldAreaStart       [5]byte
	ExtendedCharSet      [3]byte
	SizeFieldLength      byte
	SizeFieldPos         byte
	Reserved             byte
	SizeFieldTag         byte
}

// leader is the decoded, numeric form of rawLeader used throughout the
// package.
type leader struct {
	RecordLength         int
	InterchangeLevel     byte
	LeaderIdentifier     byte
	CodeExtension        byte
	VersionNumber        byte
	ApplicationIndicator byte
	FieldControlLength   int
	FieldAreaStart       int
	ExtendedCharSet      string
	SizeFieldLength      int
	SizeFieldPos         int
	SizeFieldTag         int
}

// decodeLeader unpacks the 24-byte leader without validating it: the DDR
// and data-record leaders are validated against different invariant sets
// (see validateDDR/validateRecord), so the caller picks the right one.
func decodeLeader(data []byte) (leader, error) {
	if len(data) < leaderSize {
		return leader{}, wrapf(ErrIOShort, "leader short: got %d bytes, want %d", len(data), leaderSize)
	}

	var raw rawLeader
	if err := restruct.Unpack(data[:leaderSize], binary.BigEndian, &raw); err != nil {
		return leader{}, wrapf(ErrLeaderCorrupt, "leader decode: %v", err)
	}

	l := leader{
		RecordLength:         scanInt(raw.RecordLength[:], 5),
		InterchangeLevel:     raw.InterchangeLevel,
		LeaderIdentifier:     raw.LeaderIdentifier,
		CodeExtension:        raw.CodeExtension,
		VersionNumber:        raw.VersionNumber,
		ApplicationIndicator: raw.ApplicationIndicator,
		FieldControlLength:   scanInt(raw.FieldControlLength[:], 2),
		FieldAreaStart:       scanInt(raw.FieldAreaStart[:], 5),
		ExtendedCharSet:      string(raw.ExtendedCharSet[:]),
		SizeFieldLength:      scanInt([]byte{raw.SizeFieldLength}, 1),
		SizeFieldPos:         scanInt([]byte{raw.SizeFieldPos}, 1),
		SizeFieldTag:         scanInt([]byte{raw.SizeFieldTag}, 1),
	}
	return l, nil
}

// validateDDR enforces the full §3 leader invariants, applicable only to
// the Data Descriptive Record read once at Module.Open: every byte
// printable ASCII, interchange level/leader-identifier/code-extension in
// their legal sets, and non-zero, single-digit size fields (including
// field-control-length, which DDR field-area entries depend on).
func (l leader) validateDDR(raw []byte) error {
	for _, b := range raw[:leaderSize] {
		if b < 0x20 || b > 0x7E {
			return wrapf(ErrLeaderCorrupt, "leader contains non-printable byte 0x%02x", b)
		}
	}
	switch l.InterchangeLevel {
	case '1', '2', '3':
	default:
		return wrapf(ErrLeaderCorrupt, "interchange level %q invalid", string(l.InterchangeLevel))
	}
	if l.LeaderIdentifier != 'L' && l.LeaderIdentifier != 'D' && l.LeaderIdentifier != 'R' {
		return wrapf(ErrLeaderCorrupt, "leader identifier %q invalid", string(l.LeaderIdentifier))
	}
	switch l.CodeExtension {
	case ' ', '1':
	default:
		return wrapf(ErrLeaderCorrupt, "code extension indicator %q invalid", string(l.CodeExtension))
	}
	if err := l.validateRecord(); err != nil {
		return err
	}
	if l.FieldControlLength == 0 {
		return wrapf(ErrLeaderCorrupt, "zero-width field-control length")
	}
	if l.FieldControlLength > 9 {
		return wrapf(ErrLeaderCorrupt, "field-control length exceeds single digit")
	}
	return nil
}

// validateRecord enforces only the narrow invariant set §4.5.1 step 2
// applies to every data record's leader: the three directory-entry size
// fields (1..9), record length, and field-area-start. Unlike the DDR,
// a data-record leader's interchange-level, code-extension, and
// field-control-length bytes are written blank by DDFRecord::Write and
// must not be rejected here.
func (l leader) validateRecord() error {
	if l.SizeFieldLength <= 0 || l.SizeFieldLength > 9 ||
		l.SizeFieldPos <= 0 || l.SizeFieldPos > 9 ||
		l.SizeFieldTag <= 0 || l.SizeFieldTag > 9 {
		return wrapf(ErrLeaderCorrupt, "record leader size field out of range (1..9)")
	}
	return l.validateSizesAndLengths()
}

func (l leader) validateSizesAndLengths() error {
	if l.RecordLength != 0 && (l.RecordLength < leaderSize || l.RecordLength > 100_000_000) {
		return wrapf(ErrLeaderCorrupt, "record length %d out of range", l.RecordLength)
	}
	if l.FieldAreaStart < leaderSize || l.FieldAreaStart > 100_000 {
		return wrapf(ErrLeaderCorrupt, "field area start %d out of range", l.FieldAreaStart)
	}
	return nil
}

func (l leader) encode() ([]byte, error) {
	var raw rawLeader
	copy(raw.RecordLength[:], fmt.Sprintf("%05d", l.RecordLength))
	raw.InterchangeLevel = l.InterchangeLevel
	raw.LeaderIdentifier = l.LeaderIdentifier
	raw.CodeExtension = l.CodeExtension
	raw.VersionNumber = l.VersionNumber
	raw.ApplicationIndicator = l.ApplicationIndicator
	copy(raw.FieldControlLength[:], fmt.Sprintf("%02d", l.FieldControlLength))
	copy(raw.FieldAreaStart[:], fmt.Sprintf("%05d", l.FieldAreaStart))
	ecs := l.ExtendedCharSet
	for len(ecs) < 3 {
		ecs += " "
	}
	copy(raw.ExtendedCharSet[:], ecs[:3])
	raw.SizeFieldLength = byte('0' + l.SizeFieldLength)
	raw.SizeFieldPos = byte('0' + l.SizeFieldPos)
	raw.Reserved = '0'
	raw.SizeFieldTag = byte('0' + l.SizeFieldTag)

	buf, err := restruct.Pack(binary.BigEndian, &raw)
	if err != nil {
		return nil, wrapf(ErrLeaderCorrupt, "leader encode: %v", err)
	}
	return buf, nil
}
