package eventlog

import "github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"

// ArchiverHook is an optional callback invoked when trims delete ranges.
type ArchiverHook interface {
	EmitTrimRange(topic string, min, max id.ID, count int)
}

// ArchiverFunc adapts a function to ArchiverHook.
type ArchiverFunc func(topic string, min, max id.ID, count int)

func (f ArchiverFunc) EmitTrimRange(topic string, min, max id.ID, count int) {
	f(topic, min, max, count)
}

type noopArchiver struct{}

func (noopArchiver) EmitTrimRange(string, id.ID, id.ID, int) {}
