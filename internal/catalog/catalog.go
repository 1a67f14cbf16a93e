// Package catalog persists topic and consumer-group metadata.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// TopicMeta holds topic metadata and limits.
type TopicMeta struct {
	Name            string `json:"name"`
	CreatedAtMs     int64  `json:"createdAtMs"`
	PayloadMaxBytes int    `json:"payloadMaxBytes"`
}

// GroupMeta records where a consumer group started reading.
type GroupMeta struct {
	Topic       string `json:"topic"`
	Group       string `json:"group"`
	CreatedAtMs int64  `json:"createdAtMs"`
	StartID     string `json:"startId"`
}

// Defaults returns the limits applied to new topics.
func Defaults() TopicMeta {
	return TopicMeta{PayloadMaxBytes: 1 << 20} // 1 MiB
}

var (
	topicMetaPrefix = []byte("bus/topicmeta/")
	groupMetaPrefix = []byte("bus/groupmeta/")
)

// ValidateName rejects names that would break the key layout.
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%s name is required", kind)
	case len(name) > 200:
		return fmt.Errorf("%s name too long", kind)
	case strings.ContainsAny(name, "/\x00 "):
		return fmt.Errorf("%s name %q contains '/', NUL or space", kind, name)
	}
	return nil
}

func topicMetaKey(topic string) []byte {
	k := make([]byte, 0, len(topicMetaPrefix)+len(topic))
	k = append(k, topicMetaPrefix...)
	return append(k, topic...)
}

func groupMetaKey(topic, group string) []byte {
	k := make([]byte, 0, len(groupMetaPrefix)+len(topic)+len(group)+1)
	k = append(k, groupMetaPrefix...)
	k = append(k, topic...)
	k = append(k, '/')
	return append(k, group...)
}

// EnsureTopic creates a topic meta record if absent, returning the effective
// meta. Idempotent.
func EnsureTopic(db *pebblestore.DB, name string) (TopicMeta, error) {
	if err := ValidateName("topic", name); err != nil {
		return TopicMeta{}, err
	}
	key := topicMetaKey(name)
	b, err := db.Get(key)
	if err == nil {
		var m TopicMeta
		if jerr := json.Unmarshal(b, &m); jerr == nil {
			return m, nil
		}
		// rewrite corrupted meta below
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return TopicMeta{}, err
	}
	m := Defaults()
	m.Name = name
	m.CreatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(m)
	if err != nil {
		return TopicMeta{}, err
	}
	if err := db.Set(key, raw); err != nil {
		return TopicMeta{}, err
	}
	return m, nil
}

// EnsureGroup records a group starting after start unless one exists. The
// returned bool is true when the group was created by this call.
func EnsureGroup(db *pebblestore.DB, topic, group string, start id.ID) (GroupMeta, bool, error) {
	if err := ValidateName("group", group); err != nil {
		return GroupMeta{}, false, err
	}
	if m, ok, err := GetGroup(db, topic, group); err != nil || ok {
		return m, false, err
	}
	m := GroupMeta{Topic: topic, Group: group, CreatedAtMs: time.Now().UnixMilli(), StartID: start.String()}
	raw, err := json.Marshal(m)
	if err != nil {
		return GroupMeta{}, false, err
	}
	if err := db.Set(groupMetaKey(topic, group), raw); err != nil {
		return GroupMeta{}, false, err
	}
	return m, true, nil
}

// GetGroup loads a group record.
func GetGroup(db *pebblestore.DB, topic, group string) (GroupMeta, bool, error) {
	b, err := db.Get(groupMetaKey(topic, group))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return GroupMeta{}, false, nil
	}
	if err != nil {
		return GroupMeta{}, false, err
	}
	var m GroupMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return GroupMeta{}, false, fmt.Errorf("decode group meta: %w", err)
	}
	return m, true, nil
}

// ListTopics returns every known topic in key order.
func ListTopics(db *pebblestore.DB) ([]TopicMeta, error) {
	var out []TopicMeta
	err := db.ScanPrefix(topicMetaPrefix, func(_, v []byte) bool {
		var m TopicMeta
		if json.Unmarshal(v, &m) == nil {
			out = append(out, m)
		}
		return true
	})
	return out, err
}

// ListGroups returns the groups of topic.
func ListGroups(db *pebblestore.DB, topic string) ([]GroupMeta, error) {
	prefix := groupMetaKey(topic, "")
	var out []GroupMeta
	err := db.ScanPrefix(prefix, func(_, v []byte) bool {
		var m GroupMeta
		if json.Unmarshal(v, &m) == nil {
			out = append(out, m)
		}
		return true
	})
	return out, err
}
