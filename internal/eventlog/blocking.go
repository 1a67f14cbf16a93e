package eventlog

import (
	"context"
	"time"
)

// Changed returns a channel closed by the next append.
func (l *Log) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// WaitForAppend blocks until a new append occurs, timeout elapses or ctx is
// done. It returns true only when woken by an append. A timeout <= 0 waits
// for ctx alone.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	ch := l.Changed()
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
