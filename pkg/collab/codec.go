package collab

import "errors"

// Codec limits. Decoding rejects anything that claims to be larger than
// these, so a corrupt or hostile length prefix cannot force a huge
// allocation.
const (
	// MaxAllocation caps a single length-prefixed string or byte slice.
	MaxAllocation = 4 * 1024 * 1024

	// MaxEntries caps the number of entries in one update.
	MaxEntries = 100_000

	// MaxFramePayload caps the payload length of a single frame.
	MaxFramePayload = MaxAllocation
)

// Codec errors.
var (
	ErrShortBuffer    = errors.New("collab: buffer too short")
	ErrVarintOverflow = errors.New("collab: varint overflow")
	ErrTooLarge       = errors.New("collab: allocation too large")
	ErrTooMany        = errors.New("collab: collection too large")
	ErrBadFrame       = errors.New("collab: malformed frame")
)

// FrameType identifies the kind of message a frame carries.
type FrameType uint8

const (
	FrameHello   FrameType = 0x01 // client → server, join request
	FrameWelcome FrameType = 0x02 // server → client, join response + snapshot
	FrameUpdate  FrameType = 0x03 // either direction, changed entries
)

func (ft FrameType) String() string {
	switch ft {
	case FrameHello:
		return "hello"
	case FrameWelcome:
		return "welcome"
	case FrameUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Frame is the outermost wire unit: a type byte, a uvarint payload
// length, and the payload itself. WebSocket messages carry exactly one
// frame each.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// NewFrame creates a frame with the given type and payload.
func NewFrame(ft FrameType, payload []byte) *Frame {
	return &Frame{Type: ft, Payload: payload}
}

// Encode serializes the frame to bytes.
func (f *Frame) Encode() []byte {
	e := newEncoderSize(1 + 5 + len(f.Payload))
	e.WriteByte(byte(f.Type))
	e.WriteUvarint(uint64(len(f.Payload)))
	e.WriteRaw(f.Payload)
	return e.Bytes()
}

// DecodeFrame parses a frame from bytes. The returned payload aliases
// data and must not be retained past the caller's use of data.
func DecodeFrame(data []byte) (*Frame, error) {
	d := NewDecoder(data)
	ft, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxFramePayload {
		return nil, ErrTooLarge
	}
	payload, err := d.ReadRaw(int(n))
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, ErrBadFrame
	}
	return &Frame{Type: FrameType(ft), Payload: payload}, nil
}

// Encoder appends binary data to an internal buffer. Integers use
// protobuf-style varints, strings and byte slices are length-prefixed.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with a small initial capacity.
func NewEncoder() *Encoder {
	return newEncoderSize(128)
}

func newEncoderSize(n int) *Encoder {
	return &Encoder{buf: make([]byte, 0, n)}
}

// Bytes returns the encoded buffer. The slice is owned by the encoder
// and is invalidated by further writes or Reset.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset truncates the buffer for reuse.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// WriteByte appends a single byte.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteRaw appends bytes without a length prefix.
func (e *Encoder) WriteRaw(p []byte) {
	e.buf = append(e.buf, p...)
}

// WriteUvarint appends v in base-128 varint encoding.
func (e *Encoder) WriteUvarint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

// WriteString appends a uvarint length followed by the string bytes.
func (e *Encoder) WriteString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteLenBytes appends a uvarint length followed by the bytes.
func (e *Encoder) WriteLenBytes(p []byte) {
	e.WriteUvarint(uint64(len(p)))
	e.buf = append(e.buf, p...)
}

// Decoder reads binary data produced by Encoder. Every read is bounds
// checked and length prefixes are validated against the codec limits
// before any allocation happens.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder over data. The decoder does not copy
// data; byte slices it returns alias it.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrShortBuffer
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadRaw reads n bytes without a length prefix.
func (d *Decoder) ReadRaw(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrShortBuffer
	}
	p := d.buf[d.pos : d.pos+n]
	d.pos += n
	return p, nil
}

// ReadUvarint reads a base-128 varint.
func (d *Decoder) ReadUvarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if d.pos >= len(d.buf) {
			return 0, ErrShortBuffer
		}
		b := d.buf[d.pos]
		d.pos++
		if shift == 63 && b > 1 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, ErrVarintOverflow
		}
	}
}

// ReadString reads a length-prefixed string.
func (d *Decoder) ReadString() (string, error) {
	p, err := d.ReadLenBytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadLenBytes reads a length-prefixed byte slice. The result aliases
// the decoder's buffer.
func (d *Decoder) ReadLenBytes() ([]byte, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxAllocation {
		return nil, ErrTooLarge
	}
	return d.ReadRaw(int(n))
}

// ReadCount reads a uvarint collection count and validates it against
// MaxEntries.
func (d *Decoder) ReadCount() (int, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if n > MaxEntries {
		return 0, ErrTooMany
	}
	return int(n), nil
}
