package eventlog

import (
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - bus/log/{topic}/m
// - bus/log/{topic}/e/{id_be16}
// - bus/cursor/{topic}/{group}

var (
	sep        = byte('/')
	logPrefix  = []byte("bus/log/")
	cursorPfx  = []byte("bus/cursor/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

// KeyLogMeta builds the topic metadata key.
func KeyLogMeta(topic string) []byte {
	k := make([]byte, 0, len(logPrefix)+len(topic)+len(metaSuffix))
	k = append(k, logPrefix...)
	k = append(k, topic...)
	k = append(k, metaSuffix...)
	return k
}

// KeyLogEntryPrefix is the common prefix of every entry key of topic.
func KeyLogEntryPrefix(topic string) []byte {
	k := make([]byte, 0, len(logPrefix)+len(topic)+len(entrySeg)+16)
	k = append(k, logPrefix...)
	k = append(k, topic...)
	k = append(k, entrySeg...)
	return k
}

// KeyLogEntry builds the entry key; big-endian ids keep append order.
func KeyLogEntry(topic string, entry id.ID) []byte {
	return append(KeyLogEntryPrefix(topic), entry[:]...)
}

// entryIDFromKey extracts the trailing id of an entry key.
func entryIDFromKey(k []byte) id.ID {
	var out id.ID
	if len(k) >= len(out) {
		copy(out[:], k[len(k)-len(out):])
	}
	return out
}

// KeyCursor builds the durable cursor key for a group.
func KeyCursor(topic, group string) []byte {
	k := make([]byte, 0, len(cursorPfx)+len(topic)+len(group)+1)
	k = append(k, cursorPfx...)
	k = append(k, topic...)
	k = append(k, sep)
	k = append(k, group...)
	return k
}

// KeyCursorPrefix scans every group cursor of a topic.
func KeyCursorPrefix(topic string) []byte {
	k := make([]byte, 0, len(cursorPfx)+len(topic)+1)
	k = append(k, cursorPfx...)
	k = append(k, topic...)
	k = append(k, sep)
	return k
}
