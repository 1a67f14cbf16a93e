package eventlog

import (
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// CommitCursor stores the last delivered id for a group. Commits lower than
// or equal to the stored id are ignored.
func (l *Log) CommitCursor(group string, pos id.ID) error {
	if cur, ok := l.GetCursor(group); ok && pos.Compare(cur) <= 0 {
		return nil
	}
	return l.db.Set(KeyCursor(l.topic, group), pos[:])
}

// GetCursor loads the current cursor of a group.
func (l *Log) GetCursor(group string) (id.ID, bool) {
	cur, err := l.db.Get(KeyCursor(l.topic, group))
	if err != nil {
		return id.Zero, false
	}
	return id.FromBytes(cur)
}

// Groups lists the groups with a committed cursor.
func (l *Log) Groups() ([]string, error) {
	prefix := KeyCursorPrefix(l.topic)
	var out []string
	err := l.db.ScanPrefix(prefix, func(k, _ []byte) bool {
		out = append(out, string(k[len(prefix):]))
		return true
	})
	return out, err
}
