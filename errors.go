package iso8211

import "github.com/pkg/errors"

// Error kinds from the ISO 8211 access layer. Each is a sentinel that
// propagates wrapped with call-site context; match it with errors.Is.
var (
	ErrIOShort                 = errors.New("iso8211: short read")
	ErrLeaderCorrupt           = errors.New("iso8211: leader invalid")
	ErrHeaderTruncated         = errors.New("iso8211: directory overruns declared record length")
	ErrUndefinedTag            = errors.New("iso8211: field tag has no definition on this module")
	ErrFieldPositionOutOfRange = errors.New("iso8211: field position or length exceeds buffer")
	ErrFormatParse             = errors.New("iso8211: malformed subfield or field-definition format")
	ErrSubfieldShortBuffer     = errors.New("iso8211: subfield width exceeds available bytes")
	ErrFormatOverflow          = errors.New("iso8211: formatted value exceeds fixed subfield width")
)

// wrapf attaches call-site context to a sentinel error kind, keeping it
// matchable through errors.Is/errors.Cause.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
