package core

import (
	"reflect"
	"runtime"
	"sync"
)

const defaultHistoryCapacity = 100

// dispatchHistory is a fixed-size ring of the most recent dispatches.
type dispatchHistory struct {
	mu    sync.Mutex
	items []DispatchRecord
	head  int
	count int
	seq   uint64
}

func newDispatchHistory(capacity int) *dispatchHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &dispatchHistory{items: make([]DispatchRecord, capacity)}
}

func (h *dispatchHistory) Add(record DispatchRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	record.Sequence = h.seq
	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *dispatchHistory) Recent(limit int) []DispatchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]DispatchRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *dispatchHistory) Last() (DispatchRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return DispatchRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

func resolveEntryName(entry ThreadFunc) string {
	if entry == nil {
		return "anonymous"
	}

	pc := reflect.ValueOf(entry).Pointer()
	if pc == 0 {
		return "anonymous"
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return "anonymous"
	}
	return fn.Name()
}
