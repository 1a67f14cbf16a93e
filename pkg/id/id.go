package id

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ID is a stream entry identifier encoded as 16 bytes big-endian:
// [8 bytes ms_timestamp][8 bytes sequence]. Its text form is "<ms>-<seq>".
type ID [16]byte

// Zero is the smallest ID; it sorts before every generated ID.
var Zero ID

// ErrMalformed is returned by Parse for text that is not "<ms>-<seq>".
var ErrMalformed = errors.New("id: malformed entry id")

// New builds an ID from its parts.
func New(ms int64, seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], seq)
	return id
}

// FromBytes copies a 16-byte key suffix into an ID.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != len(id) {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Parse decodes "<ms>-<seq>". A bare "<ms>" is accepted with seq 0.
func Parse(s string) (ID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return Zero, ErrMalformed
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return Zero, ErrMalformed
		}
	}
	return New(ms, seq), nil
}

// Ms returns the millisecond component.
func (i ID) Ms() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Seq returns the sequence component.
func (i ID) Seq() uint64 { return binary.BigEndian.Uint64(i[8:16]) }

// IsZero reports whether i is the zero ID.
func (i ID) IsZero() bool { return i == Zero }

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns the "<ms>-<seq>" form.
func (i ID) String() string {
	return strconv.FormatInt(i.Ms(), 10) + "-" + strconv.FormatUint(i.Seq(), 10)
}

// Next returns the smallest ID strictly greater than i.
func (i ID) Next() ID {
	if i.Seq() == math.MaxUint64 {
		return New(i.Ms()+1, 0)
	}
	return New(i.Ms(), i.Seq()+1)
}

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Generator produces strictly increasing IDs for one stream.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
	started  bool
	now      func() int64
}

// NewGenerator creates a Generator reading the wall clock.
func NewGenerator() *Generator { return &Generator{now: nowMs} }

// NewGeneratorAfter creates a Generator whose first ID is greater than last.
// Used when reopening a persisted stream.
func NewGeneratorAfter(last ID) *Generator {
	g := NewGenerator()
	g.Observe(last)
	return g
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Observe raises the generator floor so the next ID sorts after seen.
func (g *Generator) Observe(seen ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seen.IsZero() {
		return
	}
	if !g.started || seen.Ms() > g.lastMs || (seen.Ms() == g.lastMs && seen.Seq() > g.sequence) {
		g.lastMs = seen.Ms()
		g.sequence = seen.Seq()
		g.started = true
	}
}

// Next returns a new ID. If the clock goes backwards it stays on the last
// millisecond and increments the sequence. If the sequence would overflow
// within a millisecond it waits for the next one.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if g.started && ms == g.lastMs {
		if g.sequence == math.MaxUint64 {
			for {
				ms = g.now()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	g.started = true
	return New(ms, g.sequence)
}
