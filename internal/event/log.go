package event

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/storage"
)

// eventKeyPrefix is the Pebble key prefix for log entries.
var eventKeyPrefix = []byte("e:")

// seqKey stores the next sequence number. '!' sorts before ':' so the
// counter never appears in a prefix scan over entries.
var seqKey = []byte("e!")

// errStopIteration terminates a prefix scan early.
var errStopIteration = errors.New("stop iteration")

// Log is the durable append-only event log. Entries are JSON encoded,
// zstd compressed, and stored under big-endian sequence keys so Pebble's
// lexicographic order is the append order.
type Log struct {
	mu   sync.Mutex
	db   *storage.Storage
	next uint64

	subsMu sync.RWMutex
	subs   map[int]chan Event
	subID  int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewLog opens the event log, resuming the sequence from storage.
func NewLog(db *storage.Storage) (*Log, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	l := &Log{
		db:   db,
		subs: make(map[int]chan Event),
		enc:  enc,
		dec:  dec,
	}

	raw, err := db.Get(seqKey)
	if err != nil {
		return nil, fmt.Errorf("read sequence counter: %w", err)
	}

	if len(raw) == 8 {
		l.next = binary.BigEndian.Uint64(raw)
	}

	return l, nil
}

// Append assigns sequences to the events and commits them atomically.
// Subscribers are notified after the commit; a slow subscriber misses
// events rather than blocking the append path.
func (l *Log) Append(events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	l.mu.Lock()

	pairs := make([]storage.KeyValue, 0, len(events)+1)

	for i := range events {
		events[i].Sequence = l.next
		l.next++

		payload, err := l.encode(events[i])
		if err != nil {
			l.mu.Unlock()
			return err
		}

		pairs = append(pairs, storage.KeyValue{
			Key:   makeKey(events[i].Sequence),
			Value: payload,
		})
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], l.next)
	pairs = append(pairs, storage.KeyValue{Key: seqKey, Value: counter[:]})

	if err := l.db.SetBatch(pairs); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("append events: %w", err)
	}

	l.mu.Unlock()

	l.notify(events)

	return nil
}

// ReadFrom returns up to limit events starting at the given sequence.
func (l *Log) ReadFrom(start uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []Event

	err := l.db.IteratePrefix(eventKeyPrefix, func(key, value []byte) error {
		if len(key) != len(eventKeyPrefix)+8 {
			return nil
		}

		seq := binary.BigEndian.Uint64(key[len(eventKeyPrefix):])
		if seq < start {
			return nil
		}

		evt, err := l.decode(value)
		if err != nil {
			return err
		}

		out = append(out, evt)
		if len(out) >= limit {
			return errStopIteration
		}

		return nil
	})

	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("read events: %w", err)
	}

	return out, nil
}

// Next returns the sequence the next appended event will receive.
func (l *Log) Next() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.next
}

// Subscribe returns a channel of future events and an unsubscribe function.
// The channel has the given buffer; events are dropped when it is full.
func (l *Log) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	l.subsMu.Lock()
	id := l.subID
	l.subID++
	l.subs[id] = ch
	l.subsMu.Unlock()

	unsubscribe := func() {
		l.subsMu.Lock()
		if existing, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(existing)
		}
		l.subsMu.Unlock()
	}

	return ch, unsubscribe
}

// notify delivers events to subscribers without blocking.
func (l *Log) notify(events []Event) {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()

	for _, evt := range events {
		for _, ch := range l.subs {
			select {
			case ch <- evt:
			default:
				logger.Debug("subscriber buffer full, dropping event", "sequence", evt.Sequence)
			}
		}
	}
}

// encode serializes and compresses an event.
func (l *Log) encode(evt Event) ([]byte, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return l.enc.EncodeAll(raw, nil), nil
}

// decode decompresses and deserializes an event.
func (l *Log) decode(data []byte) (Event, error) {
	raw, err := l.dec.DecodeAll(data, nil)
	if err != nil {
		return Event{}, fmt.Errorf("decompress event: %w", err)
	}

	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	return evt, nil
}

// makeKey builds the storage key for a sequence: "e:" + 8 bytes big-endian.
func makeKey(seq uint64) []byte {
	key := make([]byte, len(eventKeyPrefix)+8)
	copy(key, eventKeyPrefix)
	binary.BigEndian.PutUint64(key[len(eventKeyPrefix):], seq)
	return key
}
