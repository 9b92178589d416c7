// Package contract builds smart contract query and procedure payloads and
// parses query responses.
//
// All integers are fixed-width little-endian. Strings are UTF-8, optionally
// zero-padded to a fixed field width. Identities travel as their 32 raw key
// bytes.
package contract

import (
	"encoding/base64"
	"encoding/hex"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/pilacorp/go-ledger-sdk/identity"
)

// ErrPayload is returned for malformed payloads, reads past the end of a
// response and procedure misuse.
var ErrPayload = errors.New("contract payload error")

// IdentityCodec is the part of identity.Codec the payload codecs need.
type IdentityCodec interface {
	Decode(id string) ([]byte, error)
	Encode(pub []byte) (string, error)
}

var _ IdentityCodec = (*identity.Codec)(nil)

// Writer is an append-only little-endian payload buffer.
//
// The first failing Add call records its error; later calls are no-ops and
// the error is reported by Err and by the builders that wrap the Writer.
type Writer struct {
	codec IdentityCodec
	buf   []byte
	err   error
}

// NewWriter returns an empty Writer. codec is only used by AddIdentity.
func NewWriter(codec IdentityCodec) *Writer {
	return &Writer{codec: codec}
}

func appendLE[T constraints.Integer](buf []byte, v T) []byte {
	u := uint64(v)
	for i := 0; i < int(unsafe.Sizeof(v)); i++ {
		buf = append(buf, byte(u>>(8*i)))
	}
	return buf
}

// AddByte appends one byte.
func (w *Writer) AddByte(v byte) *Writer {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
	return w
}

// AddInt16 appends v as 2 bytes.
func (w *Writer) AddInt16(v int16) *Writer { return addInt(w, v) }

// AddInt32 appends v as 4 bytes.
func (w *Writer) AddInt32(v int32) *Writer { return addInt(w, v) }

// AddInt64 appends v as 8 bytes.
func (w *Writer) AddInt64(v int64) *Writer { return addInt(w, v) }

// AddUint16 appends v as 2 bytes.
func (w *Writer) AddUint16(v uint16) *Writer { return addInt(w, v) }

// AddUint32 appends v as 4 bytes.
func (w *Writer) AddUint32(v uint32) *Writer { return addInt(w, v) }

// AddUint64 appends v as 8 bytes.
func (w *Writer) AddUint64(v uint64) *Writer { return addInt(w, v) }

func addInt[T constraints.Integer](w *Writer, v T) *Writer {
	if w.err == nil {
		w.buf = appendLE(w.buf, v)
	}
	return w
}

// AddBytes appends raw bytes.
func (w *Writer) AddBytes(b []byte) *Writer {
	if w.err == nil {
		w.buf = append(w.buf, b...)
	}
	return w
}

// AddString appends text as UTF-8. A positive byteLength right-pads the field
// with zero bytes; text longer than the field is an error.
func (w *Writer) AddString(text string, byteLength int) *Writer {
	if w.err != nil {
		return w
	}
	if byteLength > 0 && len(text) > byteLength {
		w.err = errors.Wrapf(ErrPayload, "string of %d bytes does not fit a %d byte field", len(text), byteLength)
		return w
	}

	w.buf = append(w.buf, text...)
	if pad := byteLength - len(text); pad > 0 {
		w.buf = append(w.buf, make([]byte, pad)...)
	}
	return w
}

// AddPadding appends n zero bytes.
func (w *Writer) AddPadding(n int) *Writer {
	if w.err != nil {
		return w
	}
	if n < 0 {
		w.err = errors.Wrapf(ErrPayload, "negative padding %d", n)
		return w
	}
	w.buf = append(w.buf, make([]byte, n)...)
	return w
}

// AddIdentity decodes id and appends its 32 key bytes. Decode failures are
// kept as the Writer's error unchanged.
func (w *Writer) AddIdentity(id string) *Writer {
	if w.err != nil {
		return w
	}
	if w.codec == nil {
		w.err = errors.Wrap(ErrPayload, "writer has no identity codec")
		return w
	}

	pub, err := w.codec.Decode(id)
	if err != nil {
		w.err = err
		return w
	}
	w.buf = append(w.buf, pub...)
	return w
}

// Err returns the first error recorded by an Add call.
func (w *Writer) Err() error { return w.err }

// Len is the current payload length in bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns a copy of the payload.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Hex returns the payload as lower-case hex.
func (w *Writer) Hex() string { return hex.EncodeToString(w.buf) }

// Base64 returns the payload in standard base64.
func (w *Writer) Base64() string { return base64.StdEncoding.EncodeToString(w.buf) }
