// Package outbox is a durable publish buffer on pebble. Services append
// events here instead of writing to Kafka directly; the broadcaster job
// relays them and deletes each record once the broker acknowledges it.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"orderpipe/infra/clock"
	"orderpipe/infra/sequence"
)

var ErrCorrupt = errors.New("outbox: corrupt record")

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Topic       string
	Key         string
	Payload     []byte
}

// [state:1][retries:4][lastAttempt:8][topicLen:2][topic][keyLen:2][key][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, 0, 17+len(r.Topic)+len(r.Key)+len(r.Payload))
	buf = append(buf, byte(r.State))
	buf = binary.BigEndian.AppendUint32(buf, r.Retries)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.LastAttempt))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Topic)))
	buf = append(buf, r.Topic...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Key)))
	buf = append(buf, r.Key...)
	return append(buf, r.Payload...)
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < 15 {
		return Record{}, ErrCorrupt
	}
	r := Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}
	rest := b[13:]

	topic, rest, ok := readString(rest)
	if !ok {
		return Record{}, ErrCorrupt
	}
	key, rest, ok := readString(rest)
	if !ok {
		return Record{}, ErrCorrupt
	}
	r.Topic, r.Key = topic, key
	r.Payload = append([]byte(nil), rest...)
	return r, nil
}

func readString(b []byte) (string, []byte, bool) {
	if len(b) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", nil, false
	}
	return string(b[2 : 2+n]), b[2+n:], true
}

// -------------------- Outbox --------------------

type Outbox struct {
	db    *pebble.DB
	seq   *sequence.Sequencer
	clock clock.Clock
}

// Open opens or creates the outbox at dir. Sequence numbers continue
// after the highest record already on disk.
func Open(dir string, clk clock.Clock) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}

	o := &Outbox{db: db, seq: sequence.New(0), clock: clk}
	last, err := o.lastSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	o.seq.Observe(last)
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Append durably stores a NEW record and returns its sequence number.
func (o *Outbox) Append(topic, key string, payload []byte) (uint64, error) {
	seq := o.seq.Next()
	rec := Record{Seq: seq, State: StateNew, Topic: topic, Key: key, Payload: payload}
	if err := o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync); err != nil {
		return 0, fmt.Errorf("outbox append: %w", err)
	}
	return seq, nil
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// MarkSent records a delivery attempt in flight.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateSent
		r.LastAttempt = o.clock.Now().UnixNano()
	})
}

// MarkRetry counts a failed attempt and returns the record to NEW.
func (o *Outbox) MarkRetry(seq uint64) (Record, error) {
	var out Record
	err := o.update(seq, func(r *Record) {
		r.State = StateNew
		r.Retries++
		out = *r
	})
	return out, err
}

// MarkFailed parks the record; it is no longer relayed.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.update(seq, func(r *Record) { r.State = StateFailed })
}

// Delete removes an acknowledged record.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

// -------------------- Scan --------------------

// ScanPending visits NEW and SENT records in sequence order. A SENT
// record was in flight when the process stopped and is sent again.
func (o *Outbox) ScanPending(fn func(Record) error) error {
	return o.scan(func(r Record) error {
		if r.State != StateNew && r.State != StateSent {
			return nil
		}
		return fn(r)
	})
}

// ScanByState visits records in the given state.
func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	return o.scan(func(r Record) error {
		if r.State != state {
			return nil
		}
		return fn(r)
	})
}

func (o *Outbox) scan(fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return fmt.Errorf("seq %d: %w", seq, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

func (o *Outbox) update(seq uint64, fn func(*Record)) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	fn(&rec)
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

const keyPrefix = "outbox/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b[len(keyPrefix):]), "%d", &seq)
	return seq, err
}

// -------------------- Publisher --------------------

// Publisher appends JSON events for one topic. It satisfies the
// services' publish interface.
type Publisher struct {
	outbox *Outbox
	topic  string
}

func (o *Outbox) Publisher(topic string) *Publisher {
	return &Publisher{outbox: o, topic: topic}
}

// Publish refuses to append once ctx is done; the caller still owns the
// event and its source message stays uncommitted.
func (p *Publisher) Publish(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", p.topic, err)
	}
	_, err = p.outbox.Append(p.topic, key, b)
	return err
}
