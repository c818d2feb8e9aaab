package collab

// ProtocolVersion is the wire protocol version. A server rejects hellos
// carrying a different version.
const ProtocolVersion = 1

// Entry is one replicated key together with the metadata that decides
// conflicts. Value holds the JSON encoding of the user's value.
type Entry struct {
	Key     string
	Value   []byte
	Clock   uint64
	Replica string
}

// wins reports whether e should replace cur under last-writer-wins.
func (e Entry) wins(cur Entry) bool {
	if e.Clock != cur.Clock {
		return e.Clock > cur.Clock
	}
	return e.Replica > cur.Replica
}

// EncodeEntryTo appends the wire encoding of en to e.
func EncodeEntryTo(e *Encoder, en *Entry) {
	e.WriteString(en.Key)
	e.WriteLenBytes(en.Value)
	e.WriteUvarint(en.Clock)
	e.WriteString(en.Replica)
}

// DecodeEntryFrom reads an entry from d.
func DecodeEntryFrom(d *Decoder) (Entry, error) {
	var en Entry
	var err error
	if en.Key, err = d.ReadString(); err != nil {
		return Entry{}, err
	}
	if en.Value, err = d.ReadLenBytes(); err != nil {
		return Entry{}, err
	}
	if en.Clock, err = d.ReadUvarint(); err != nil {
		return Entry{}, err
	}
	if en.Replica, err = d.ReadString(); err != nil {
		return Entry{}, err
	}
	return en, nil
}

// Hello is the first message a client sends after connecting. SinceClock
// is the highest clock the client has already seen; the server's welcome
// only includes entries written after it, which keeps reconnects cheap.
type Hello struct {
	Version    uint8
	Room       string
	Replica    string
	SinceClock uint64
}

// EncodeHello serializes a hello message.
func EncodeHello(h *Hello) []byte {
	e := NewEncoder()
	EncodeHelloTo(e, h)
	return e.Bytes()
}

// EncodeHelloTo appends the wire encoding of h to e.
func EncodeHelloTo(e *Encoder, h *Hello) {
	e.WriteByte(h.Version)
	e.WriteString(h.Room)
	e.WriteString(h.Replica)
	e.WriteUvarint(h.SinceClock)
}

// DecodeHello parses a hello message.
func DecodeHello(data []byte) (*Hello, error) {
	return DecodeHelloFrom(NewDecoder(data))
}

// DecodeHelloFrom reads a hello message from d.
func DecodeHelloFrom(d *Decoder) (*Hello, error) {
	h := &Hello{}
	var err error
	if h.Version, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if h.Room, err = d.ReadString(); err != nil {
		return nil, err
	}
	if h.Replica, err = d.ReadString(); err != nil {
		return nil, err
	}
	if h.SinceClock, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	return h, nil
}

// JoinStatus is the server's verdict on a hello.
type JoinStatus uint8

const (
	JoinOK              JoinStatus = 0
	JoinVersionMismatch JoinStatus = 1
	JoinBadHello        JoinStatus = 2
	JoinUnavailable     JoinStatus = 3
)

func (s JoinStatus) String() string {
	switch s {
	case JoinOK:
		return "ok"
	case JoinVersionMismatch:
		return "version mismatch"
	case JoinBadHello:
		return "bad hello"
	case JoinUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Welcome is the server's response to a hello. On success it carries the
// server's replica ID, its current clock, and every entry the client is
// missing. On failure only Status is meaningful.
type Welcome struct {
	Status  JoinStatus
	Replica string
	Clock   uint64
	Entries []Entry
}

// NewWelcomeError creates a welcome that rejects the join.
func NewWelcomeError(status JoinStatus) *Welcome {
	return &Welcome{Status: status}
}

// EncodeWelcome serializes a welcome message.
func EncodeWelcome(w *Welcome) []byte {
	e := NewEncoder()
	EncodeWelcomeTo(e, w)
	return e.Bytes()
}

// EncodeWelcomeTo appends the wire encoding of w to e.
func EncodeWelcomeTo(e *Encoder, w *Welcome) {
	e.WriteByte(byte(w.Status))
	e.WriteString(w.Replica)
	e.WriteUvarint(w.Clock)
	e.WriteUvarint(uint64(len(w.Entries)))
	for i := range w.Entries {
		EncodeEntryTo(e, &w.Entries[i])
	}
}

// DecodeWelcome parses a welcome message.
func DecodeWelcome(data []byte) (*Welcome, error) {
	return DecodeWelcomeFrom(NewDecoder(data))
}

// DecodeWelcomeFrom reads a welcome message from d.
func DecodeWelcomeFrom(d *Decoder) (*Welcome, error) {
	w := &Welcome{}
	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	w.Status = JoinStatus(status)
	if w.Replica, err = d.ReadString(); err != nil {
		return nil, err
	}
	if w.Clock, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	count, err := d.ReadCount()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		w.Entries = make([]Entry, 0, count)
		for i := 0; i < count; i++ {
			en, err := DecodeEntryFrom(d)
			if err != nil {
				return nil, err
			}
			w.Entries = append(w.Entries, en)
		}
	}
	return w, nil
}

// Update carries changed entries in either direction.
type Update struct {
	Entries []Entry
}

// EncodeUpdate serializes an update message.
func EncodeUpdate(u *Update) []byte {
	e := NewEncoder()
	EncodeUpdateTo(e, u)
	return e.Bytes()
}

// EncodeUpdateTo appends the wire encoding of u to e.
func EncodeUpdateTo(e *Encoder, u *Update) {
	e.WriteUvarint(uint64(len(u.Entries)))
	for i := range u.Entries {
		EncodeEntryTo(e, &u.Entries[i])
	}
}

// DecodeUpdate parses an update message.
func DecodeUpdate(data []byte) (*Update, error) {
	return DecodeUpdateFrom(NewDecoder(data))
}

// DecodeUpdateFrom reads an update message from d.
func DecodeUpdateFrom(d *Decoder) (*Update, error) {
	count, err := d.ReadCount()
	if err != nil {
		return nil, err
	}
	u := &Update{}
	if count > 0 {
		u.Entries = make([]Entry, 0, count)
		for i := 0; i < count; i++ {
			en, err := DecodeEntryFrom(d)
			if err != nil {
				return nil, err
			}
			u.Entries = append(u.Entries, en)
		}
	}
	return u, nil
}

// updateFrame encodes entries as a ready-to-send update frame.
func updateFrame(entries []Entry) []byte {
	payload := EncodeUpdate(&Update{Entries: entries})
	return NewFrame(FrameUpdate, payload).Encode()
}
