package collab

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

// Room holds one replica of a named entry set. Entries merge with
// last-writer-wins, ordered by Lamport clock and tie-broken by replica
// ID, so any two rooms that exchange updates converge to the same
// state.
//
// Entry state (Update, Delta, Clock) is safe to read from any
// goroutine. Signal operations follow the runtime's single-owner rule:
// route them through one goroutine, typically a Loop.
type Room struct {
	id      string
	replica string
	rt      *reactive.Runtime
	logger  *slog.Logger
	ownedRT bool

	mu       sync.Mutex
	clock    uint64
	seen     uint64
	entries  map[string]Entry
	bindings map[string]*binding
	watchers []watcher
	watchSeq uint64
}

// binding connects an entry key to the shared signal reading it. apply
// pushes a remote value into the signal without republishing it.
type binding struct {
	shared any
	apply  func(value []byte) error
}

type watcher struct {
	id uint64
	fn func([]Entry)
}

type roomConfig struct {
	rt      *reactive.Runtime
	replica string
	logger  *slog.Logger
}

// RoomOption configures a room.
type RoomOption func(*roomConfig)

// WithRuntime attaches the room's signals to an existing runtime
// instead of a private one. The room will not dispose a runtime it did
// not create.
func WithRuntime(rt *reactive.Runtime) RoomOption {
	return func(c *roomConfig) {
		c.rt = rt
	}
}

// WithReplica overrides the generated replica ID. Replica IDs break
// clock ties, so they must be unique across the replicas of a room.
func WithReplica(id string) RoomOption {
	return func(c *roomConfig) {
		c.replica = id
	}
}

// WithRoomLogger sets the logger for decode and merge warnings.
func WithRoomLogger(logger *slog.Logger) RoomOption {
	return func(c *roomConfig) {
		c.logger = logger
	}
}

// NewRoom creates an empty room replica.
func NewRoom(id string, opts ...RoomOption) *Room {
	cfg := &roomConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.replica == "" {
		cfg.replica = uuid.NewString()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	owned := false
	if cfg.rt == nil {
		cfg.rt = reactive.New(reactive.WithLogger(cfg.logger))
		owned = true
	}
	return &Room{
		id:       id,
		replica:  cfg.replica,
		rt:       cfg.rt,
		logger:   cfg.logger.With("component", "collab", "room", id),
		ownedRT:  owned,
		entries:  make(map[string]Entry),
		bindings: make(map[string]*binding),
	}
}

// ID returns the room name.
func (r *Room) ID() string { return r.id }

// Replica returns this replica's ID.
func (r *Room) Replica() string { return r.replica }

// Runtime returns the reactive runtime the room's signals live on.
func (r *Room) Runtime() *reactive.Runtime { return r.rt }

// Clock returns the highest Lamport clock this replica has seen.
func (r *Room) Clock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

// SyncedClock returns the highest clock among entries received from
// peers. Unlike Clock it does not advance on local writes, so it is
// the right lower bound when asking a peer for a delta: everything a
// peer sent is covered, nothing only written locally is.
func (r *Room) SyncedClock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

// markSeen records that a peer has sent everything up to clock.
func (r *Room) markSeen(clock uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clock > r.seen {
		r.seen = clock
	}
}

// Len returns the number of entries in the room.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Watch registers fn to be called with every batch of locally written
// entries. Remote entries applied through Apply or ApplyUpdate do not
// fire watchers; the caller of Apply already knows the winners. The
// returned function cancels the registration.
func (r *Room) Watch(fn func([]Entry)) func() {
	r.mu.Lock()
	r.watchSeq++
	id := r.watchSeq
	r.watchers = append(r.watchers, watcher{id: id, fn: fn})
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, w := range r.watchers {
			if w.id == id {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				return
			}
		}
	}
}

// publish records a local write: it advances the Lamport clock, stores
// the entry, and hands it to every watcher.
func (r *Room) publish(key string, value []byte) Entry {
	r.mu.Lock()
	r.clock++
	e := Entry{Key: key, Value: value, Clock: r.clock, Replica: r.replica}
	r.entries[key] = e
	watchers := make([]watcher, len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.Unlock()

	batch := []Entry{e}
	for _, w := range watchers {
		w.fn(batch)
	}
	return e
}

// entryEqual reports whether key currently holds exactly value.
func (r *Room) entryEqual(key string, value []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[key]
	if !ok {
		return false
	}
	return string(cur.Value) == string(value)
}

// Apply merges entries into the room and returns the ones that won
// their conflicts, in input order. Winning entries are pushed into
// their bound signals, which re-runs dependent memos and effects.
// Losing entries are dropped without side effects.
func (r *Room) Apply(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}

	r.mu.Lock()
	var winners []Entry
	var applies []func(value []byte) error
	for _, e := range entries {
		if e.Clock > r.seen {
			r.seen = e.Clock
		}
		cur, exists := r.entries[e.Key]
		if exists && !e.wins(cur) {
			continue
		}
		r.entries[e.Key] = e
		if e.Clock > r.clock {
			r.clock = e.Clock
		}
		winners = append(winners, e)
		if b, ok := r.bindings[e.Key]; ok {
			applies = append(applies, b.apply)
		} else {
			applies = append(applies, nil)
		}
	}
	r.mu.Unlock()

	// Signal writes happen outside the lock: effects triggered by them
	// may create signals or write back into the room.
	for i, e := range winners {
		if applies[i] == nil {
			continue
		}
		if err := applies[i](e.Value); err != nil {
			r.logger.Warn("apply failed", "key", e.Key, "error", err)
		}
	}
	return winners
}

// ApplyUpdate decodes an update message and merges it. It returns the
// entries that won their conflicts.
func (r *Room) ApplyUpdate(data []byte) ([]Entry, error) {
	u, err := DecodeUpdate(data)
	if err != nil {
		return nil, err
	}
	return r.Apply(u.Entries), nil
}

// Update encodes the room's full state as an update message. Entries
// are sorted by key so equal states encode to equal bytes.
func (r *Room) Update() []byte {
	return EncodeUpdate(&Update{Entries: r.EntriesSince(0)})
}

// Delta encodes every entry written after sinceClock.
func (r *Room) Delta(sinceClock uint64) []byte {
	return EncodeUpdate(&Update{Entries: r.EntriesSince(sinceClock)})
}

// Entries returns a sorted copy of the room's current entries.
func (r *Room) Entries() []Entry {
	return r.EntriesSince(0)
}

// EntriesSince returns a sorted copy of every entry written after
// sinceClock.
func (r *Room) EntriesSince(sinceClock uint64) []Entry {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Clock > sinceClock {
			entries = append(entries, e)
		}
	}
	r.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Dispose tears down the room's runtime if the room created it. Rooms
// attached to a caller-supplied runtime leave it untouched.
func (r *Room) Dispose() {
	if r.ownedRT {
		r.rt.Dispose()
	}
}
