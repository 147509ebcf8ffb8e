package cipher

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
)

// Text decoding helpers

// DecodeUTF8 decodes b as UTF-8 the way a lenient browser decoder does: a
// leading byte order mark is dropped and invalid sequences become U+FFFD.
func DecodeUTF8(b []byte) string {
	out, err := xunicode.UTF8BOM.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}

// DecodeUTF16LE decodes b as UTF-16 little endian. A leading byte order
// mark is dropped; an odd trailing byte and unpaired surrogates become
// U+FFFD.
func DecodeUTF16LE(b []byte) string {
	out, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(string(out), "\ufeff")
}

// latin1 maps every byte to the code point of the same value.
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// Identity and charset transforms

// RawOp decodes the span as UTF-8 without modification.
type RawOp struct {
	BaseTransform
}

func (op *RawOp) Decode(input []byte) (string, bool) {
	return DecodeUTF8(input), true
}

// UTF16LEOp decodes the span as UTF-16 little endian.
type UTF16LEOp struct {
	BaseTransform
}

func (op *UTF16LEOp) Decode(input []byte) (string, bool) {
	return DecodeUTF16LE(input), true
}

// Byte-level ciphers

// NotOp complements every byte before decoding.
type NotOp struct {
	BaseTransform
}

func (op *NotOp) Decode(input []byte) (string, bool) {
	out := make([]byte, len(input))
	for i, b := range input {
		out[i] = ^b
	}
	return DecodeUTF8(out), true
}

// AddOp adds Delta modulo 256 to every byte before decoding.
type AddOp struct {
	BaseTransform
	Delta int
}

func (op *AddOp) Decode(input []byte) (string, bool) {
	d := byte(op.Delta)
	out := make([]byte, len(input))
	for i, b := range input {
		out[i] = b + d
	}
	return DecodeUTF8(out), true
}

// XOROp XORs every byte with Key before decoding.
type XOROp struct {
	BaseTransform
	Key byte
}

func (op *XOROp) Decode(input []byte) (string, bool) {
	out := make([]byte, len(input))
	for i, b := range input {
		out[i] = b ^ op.Key
	}
	return DecodeUTF8(out), true
}

// RotOp rotates ASCII letters by Shift places within their case. Every
// other byte is passed through as the code point of the same value.
type RotOp struct {
	BaseTransform
	Shift int
}

func (op *RotOp) Decode(input []byte) (string, bool) {
	out := make([]byte, len(input))
	for i, c := range input {
		out[i] = Rotate(c, op.Shift)
	}
	return latin1(out), true
}

// Rotate applies a Caesar shift to c when it is an ASCII letter.
func Rotate(c byte, shift int) byte {
	shift %= 26
	if shift < 0 {
		shift += 26
	}
	switch {
	case c >= 'A' && c <= 'Z':
		return 'A' + (c-'A'+byte(shift))%26
	case c >= 'a' && c <= 'z':
		return 'a' + (c-'a'+byte(shift))%26
	default:
		return c
	}
}

// Encodings

var base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// minBase64Len is the shortest cleaned input worth decoding.
const minBase64Len = 8

// Base64Op speculatively decodes the span as standard Base64.
type Base64Op struct {
	BaseTransform
}

func (op *Base64Op) Decode(input []byte) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, DecodeUTF8(input))
	if len(cleaned) < minBase64Len || !base64Alphabet.MatchString(cleaned) {
		return "", false
	}
	decoded, err := forgivingBase64(cleaned)
	if err != nil {
		return "", false
	}
	return latin1(decoded), true
}

// forgivingBase64 follows the browser atob rules: up to two trailing pad
// characters are dropped when the length is a multiple of four, padding is
// otherwise optional, and leftover bits are ignored.
func forgivingBase64(s string) ([]byte, error) {
	if len(s)%4 == 0 {
		for i := 0; i < 2 && strings.HasSuffix(s, "="); i++ {
			s = s[:len(s)-1]
		}
	}
	if len(s)%4 == 1 {
		return nil, fmt.Errorf("base64 length %d is not decodable", len(s))
	}
	if strings.Contains(s, "=") {
		return nil, fmt.Errorf("base64 padding inside data")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	return decoded, nil
}

// Constructors

func newRaw() Transform {
	return &RawOp{BaseTransform: BaseTransform{
		NameValue:        "raw",
		FamilyValue:      FamilyIdentity,
		DescriptionValue: "Decode as UTF-8 without modification",
	}}
}

func newUTF16LE() Transform {
	return &UTF16LEOp{BaseTransform: BaseTransform{
		NameValue:        "utf16le",
		FamilyValue:      FamilyCharset,
		DescriptionValue: "Decode as UTF-16 little endian",
	}}
}

func newNot() Transform {
	return &NotOp{BaseTransform: BaseTransform{
		NameValue:        "not",
		FamilyValue:      FamilyBitwise,
		DescriptionValue: "Complement every byte, then decode as UTF-8",
	}}
}

// NewAdd returns the additive shift transform for delta.
func NewAdd(delta int) Transform {
	return &AddOp{
		BaseTransform: BaseTransform{
			NameValue:        "add" + strconv.Itoa(delta),
			FamilyValue:      FamilyShift,
			DescriptionValue: fmt.Sprintf("Add %d to every byte, then decode as UTF-8", delta),
		},
		Delta: delta,
	}
}

// NewXOR returns the single-byte XOR transform for key.
func NewXOR(key byte) Transform {
	return &XOROp{
		BaseTransform: BaseTransform{
			NameValue:        "xor_" + strconv.FormatUint(uint64(key), 16),
			FamilyValue:      FamilyXOR,
			DescriptionValue: fmt.Sprintf("XOR every byte with 0x%02X, then decode as UTF-8", key),
		},
		Key: key,
	}
}

// NewRot returns the Caesar rotation transform for shift.
func NewRot(shift int) Transform {
	return &RotOp{
		BaseTransform: BaseTransform{
			NameValue:        "rot" + strconv.Itoa(shift),
			FamilyValue:      FamilyRotate,
			DescriptionValue: fmt.Sprintf("Rotate ASCII letters by %d", shift),
		},
		Shift: shift,
	}
}

func newBase64() Transform {
	return &Base64Op{BaseTransform: BaseTransform{
		NameValue:        "base64_try",
		FamilyValue:      FamilyEncoding,
		DescriptionValue: "Speculative standard Base64 decode",
	}}
}
