package consumergroup

import (
	"encoding/binary"

	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

const (
	segPEL     = "pel/"
	segCons    = "cons/"
	segConsIdx = "cons_idx/"
)

// groupPrefix returns bus/cg/{topic}/{group}/.
func groupPrefix(topic, group string) []byte {
	k := make([]byte, 0, 8+len(topic)+len(group)+2)
	k = append(k, "bus/cg/"...)
	k = append(k, topic...)
	k = append(k, '/')
	k = append(k, group...)
	return append(k, '/')
}

func pelPrefix(topic, group string) []byte {
	return append(groupPrefix(topic, group), segPEL...)
}

func pelKey(topic, group string, entry id.ID) []byte {
	return append(pelPrefix(topic, group), entry[:]...)
}

func consumerPrefix(topic, group string) []byte {
	return append(groupPrefix(topic, group), segCons...)
}

func consumerKey(topic, group, consumer string) []byte {
	return append(consumerPrefix(topic, group), consumer...)
}

func consumerIndexPrefix(topic, group string) []byte {
	return append(groupPrefix(topic, group), segConsIdx...)
}

// consumerIndexKey orders consumers by expiry so expired ones scan first.
func consumerIndexKey(topic, group string, expiresAtMs int64, consumer string) []byte {
	k := consumerIndexPrefix(topic, group)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(expiresAtMs))
	k = append(k, b[:]...)
	k = append(k, '/')
	return append(k, consumer...)
}

// GroupPrefix exposes the group keyspace for administrative deletes.
func GroupPrefix(topic, group string) []byte { return groupPrefix(topic, group) }
