// Package header decodes and validates POSIX USTAR header blocks and walks
// an archive block by block.
package header

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// BlockSize is the size of every header block and the payload alignment unit.
const BlockSize = 512

// Field offsets and widths of the USTAR header layout.
const (
	nameOff, nameLen         = 0, 100
	modeOff, modeLen         = 100, 8
	sizeOff, sizeLen         = 124, 12
	mtimeOff, mtimeLen       = 136, 12
	chksumOff, chksumLen     = 148, 8
	typeflagOff              = 156
	linknameOff, linknameLen = 157, 100
	magicOff, magicLen       = 257, 6
	versionOff, versionLen   = 263, 2
	prefixOff, prefixLen     = 345, 155
)

// Type flags recognized by the accessor. Every other flag is inert.
const (
	TypeReg     byte = '0'
	TypeRegA    byte = '\x00'
	TypeSymlink byte = '2'
	TypeDir     byte = '5'
)

// Magic and Version are the only accepted values of the magic and version fields.
const (
	Magic   = "ustar\x00"
	Version = "00"
)

// Sentinel errors for header decoding and validation.
var (
	// ErrInvalidMagic is returned when a header's magic field is not "ustar\x00".
	ErrInvalidMagic = errors.New("ustar: invalid magic")

	// ErrInvalidVersion is returned when a header's version field is not "00".
	ErrInvalidVersion = errors.New("ustar: invalid version")

	// ErrInvalidChecksum is returned when the declared checksum does not match the block.
	ErrInvalidChecksum = errors.New("ustar: invalid checksum")

	// ErrInvalidSize is returned when the size field is not a valid octal number.
	ErrInvalidSize = errors.New("ustar: invalid size")

	// ErrTruncated is returned when the source ends inside a header or payload.
	ErrTruncated = errors.New("ustar: truncated archive")
)

// Block is one raw 512-byte header record.
type Block [BlockSize]byte

// Header is the decoded form of a header block.
type Header struct {
	// Name is the entry path as stored (prefix joined when present).
	Name string

	// Typeflag selects the entry kind.
	Typeflag byte

	// Linkname is the link target of symbolic links.
	Linkname string

	// Size is the payload length in bytes.
	Size int64

	// Mode holds the permission and mode bits.
	Mode int64

	// ModTime is the modification time.
	ModTime time.Time

	// Offset is the byte offset of the header block in the archive.
	Offset int64
}

// IsRegular reports whether the header describes a regular file.
func (h *Header) IsRegular() bool {
	return h.Typeflag == TypeReg || h.Typeflag == TypeRegA
}

// IsDir reports whether the header describes a directory.
func (h *Header) IsDir() bool {
	return h.Typeflag == TypeDir
}

// IsSymlink reports whether the header describes a symbolic link.
func (h *Header) IsSymlink() bool {
	return h.Typeflag == TypeSymlink
}

// DataOffset returns the offset of the first payload byte.
func (h *Header) DataOffset() int64 {
	return h.Offset + BlockSize
}

// NextOffset returns the offset of the header following this entry.
func (h *Header) NextOffset() int64 {
	return h.DataOffset() + PaddedSize(h.Size)
}

// PaddedSize rounds size up to the next multiple of BlockSize.
func PaddedSize(size int64) int64 {
	return (size + BlockSize - 1) &^ (BlockSize - 1)
}

// IsZero reports whether every byte of the block is zero. Such a block marks
// the logical end of the archive.
func (b *Block) IsZero() bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Checksum returns the unsigned and signed byte sums of the block, with the
// checksum field counted as eight ASCII spaces.
func (b *Block) Checksum() (unsigned, signed int64) {
	for i, c := range b {
		if i >= chksumOff && i < chksumOff+chksumLen {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

// Validate checks the magic, version and checksum fields in that order and
// returns the first violation. The declared checksum must equal the unsigned
// byte sum.
func (b *Block) Validate() error {
	return b.validate(false)
}

// ValidateLegacy is Validate, but also accepts the signed byte sum written by
// some historic tar implementations.
func (b *Block) ValidateLegacy() error {
	return b.validate(true)
}

func (b *Block) validate(acceptSigned bool) error {
	if string(b[magicOff:magicOff+magicLen]) != Magic {
		return ErrInvalidMagic
	}
	if string(b[versionOff:versionOff+versionLen]) != Version {
		return ErrInvalidVersion
	}
	declared, err := parseOctal(b[chksumOff : chksumOff+chksumLen])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	unsigned, signed := b.Checksum()
	if declared != unsigned && (!acceptSigned || declared != signed) {
		return fmt.Errorf("%w: declared %o, computed %o", ErrInvalidChecksum, declared, unsigned)
	}
	return nil
}

// Name returns the entry path stored in the block without decoding other fields.
func (b *Block) Name() string {
	name := cString(b[nameOff : nameOff+nameLen])
	if prefix := cString(b[prefixOff : prefixOff+prefixLen]); prefix != "" && string(b[magicOff:magicOff+magicLen]) == Magic {
		return prefix + "/" + name
	}
	return name
}

// Decode extracts the header fields. The offset is recorded as-is.
func (b *Block) Decode(offset int64) (Header, error) {
	h := Header{
		Name:     b.Name(),
		Typeflag: b[typeflagOff],
		Offset:   offset,
	}
	if h.IsSymlink() {
		h.Linkname = cString(b[linknameOff : linknameOff+linknameLen])
	}

	size, err := parseOctal(b[sizeOff : sizeOff+sizeLen])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	h.Size = size

	// Mode and mtime are informational; malformed values decode as zero.
	h.Mode, _ = parseOctal(b[modeOff : modeOff+modeLen])     //nolint:errcheck // informational field
	mtime, _ := parseOctal(b[mtimeOff : mtimeOff+mtimeLen]) //nolint:errcheck // informational field
	h.ModTime = time.Unix(mtime, 0)
	return h, nil
}

// cString returns the bytes up to the first NUL, or all of them.
func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}

// parseOctal parses an octal ASCII field surrounded by optional spaces and NULs.
// An empty field is zero.
func parseOctal(field []byte) (int64, error) {
	s := string(bytes.Trim(field, " \x00"))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("parse octal %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("parse octal %q: negative value", s)
	}
	return v, nil
}
