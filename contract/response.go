package contract

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/constraints"
)

// Encoding names the text form of a response payload.
type Encoding int

const (
	EncodingHex Encoding = iota
	EncodingBase64
)

func (e Encoding) String() string {
	if e == EncodingHex {
		return "hex"
	}
	return "base64"
}

// ClassifyPayload picks the encoding of s. A payload is hex when, after an
// optional 0x prefix, it has even length and only hex digits; anything
// containing base64-only characters is base64.
//
// The guess is ambiguous: unpadded base64 made only of hex letters, such as
// the encoding of an all-zero buffer ("AAAA..."), classifies as hex. Callers
// that know the transport's encoding should use DecodePayloadAs or
// NewResponseParserEncoded.
func ClassifyPayload(s string) Encoding {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return EncodingBase64
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return EncodingBase64
		}
	}
	return EncodingHex
}

// DecodePayload turns a hex or base64 payload string into bytes, guessing the
// encoding with ClassifyPayload.
func DecodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	return DecodePayloadAs(s, ClassifyPayload(s))
}

// DecodePayloadAs decodes s with a known encoding.
func DecodePayloadAs(s string, enc Encoding) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch enc {
	case EncodingHex:
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
		if err != nil {
			return nil, errors.Wrap(ErrPayload, err.Error())
		}
		return b, nil
	default:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(s)
		}
		if err != nil {
			return nil, errors.Wrapf(ErrPayload, "payload is neither hex nor base64: %v", err)
		}
		return b, nil
	}
}

// IdentitySlot is one identity read from a response. Unused or corrupt slots
// are empty.
type IdentitySlot string

// Empty reports whether the slot holds no identity.
func (s IdentitySlot) Empty() bool { return s == "" }

// Identity returns the identity string and whether the slot is filled.
func (s IdentitySlot) Identity() (string, bool) { return string(s), s != "" }

func (s IdentitySlot) String() string { return string(s) }

// ParserOption configures a ResponseParser.
type ParserOption func(*ResponseParser)

// WithParserLogger sets the logger that reports skipped identity slots.
func WithParserLogger(l *zap.Logger) ParserOption {
	return func(p *ResponseParser) {
		if l != nil {
			p.logger = l
		}
	}
}

// ResponseParser reads a response payload front to back.
type ResponseParser struct {
	codec  IdentityCodec
	data   []byte
	offset int
	logger *zap.Logger
}

// NewResponseParser decodes a hex or base64 payload, guessing the encoding.
func NewResponseParser(codec IdentityCodec, payload string, opts ...ParserOption) (*ResponseParser, error) {
	data, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return NewResponseParserFromBytes(codec, data, opts...), nil
}

// NewResponseParserEncoded decodes a payload whose encoding is known.
func NewResponseParserEncoded(codec IdentityCodec, payload string, enc Encoding, opts ...ParserOption) (*ResponseParser, error) {
	data, err := DecodePayloadAs(payload, enc)
	if err != nil {
		return nil, err
	}
	return NewResponseParserFromBytes(codec, data, opts...), nil
}

// NewResponseParserFromBytes wraps an already decoded payload.
func NewResponseParserFromBytes(codec IdentityCodec, data []byte, opts ...ParserOption) *ResponseParser {
	p := &ResponseParser{codec: codec, data: data, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ResponseParser) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrPayload, "negative read length %d", n)
	}
	if p.Remaining() < n {
		return nil, errors.Wrapf(ErrPayload, "need %d bytes at offset %d, %d remaining", n, p.offset, p.Remaining())
	}
	b := p.data[p.offset : p.offset+n]
	p.offset += n
	return b, nil
}

func readInt[T constraints.Integer](p *ResponseParser, size int) (T, error) {
	b, err := p.take(size)
	if err != nil {
		return 0, err
	}
	var u uint64
	for i := size - 1; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}
	return T(u), nil
}

// ReadByte reads one byte.
func (p *ResponseParser) ReadByte() (byte, error) { return readInt[byte](p, 1) }

// ReadInt16 reads a signed 16-bit value.
func (p *ResponseParser) ReadInt16() (int16, error) { return readInt[int16](p, 2) }

// ReadInt32 reads a signed 32-bit value.
func (p *ResponseParser) ReadInt32() (int32, error) { return readInt[int32](p, 4) }

// ReadInt64 reads a signed 64-bit value.
func (p *ResponseParser) ReadInt64() (int64, error) { return readInt[int64](p, 8) }

// ReadUint16 reads an unsigned 16-bit value.
func (p *ResponseParser) ReadUint16() (uint16, error) { return readInt[uint16](p, 2) }

// ReadUint32 reads an unsigned 32-bit value.
func (p *ResponseParser) ReadUint32() (uint32, error) { return readInt[uint32](p, 4) }

// ReadUint64 reads an unsigned 64-bit value.
func (p *ResponseParser) ReadUint64() (uint64, error) { return readInt[uint64](p, 8) }

// ReadBytes reads n raw bytes.
func (p *ResponseParser) ReadBytes(n int) ([]byte, error) {
	b, err := p.take(n)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(b), nil
}

// ReadString reads a byteLength field and strips trailing zero bytes.
func (p *ResponseParser) ReadString(byteLength int) (string, error) {
	b, err := p.take(byteLength)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(b, "\x00")), nil
}

// ReadIdentity reads 32 key bytes. An all-zero slot yields an empty slot, as
// does a key the codec cannot render; the latter is logged and skipped.
func (p *ResponseParser) ReadIdentity() (IdentitySlot, error) {
	offset := p.offset
	b, err := p.take(32)
	if err != nil {
		return "", err
	}
	if isZero(b) {
		return "", nil
	}

	id, err := p.codec.Encode(b)
	if err != nil {
		p.logger.Warn("skipping unreadable identity slot", zap.Int("offset", offset), zap.Error(err))
		return "", nil
	}
	return IdentitySlot(id), nil
}

// Skip advances the cursor by n bytes.
func (p *ResponseParser) Skip(n int) error {
	_, err := p.take(n)
	return err
}

// HasMore reports whether unread bytes remain.
func (p *ResponseParser) HasMore() bool { return p.offset < len(p.data) }

// Remaining is the number of unread bytes.
func (p *ResponseParser) Remaining() int { return len(p.data) - p.offset }

// Offset is the cursor position.
func (p *ResponseParser) Offset() int { return p.offset }

// Len is the total payload length.
func (p *ResponseParser) Len() int { return len(p.data) }

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
