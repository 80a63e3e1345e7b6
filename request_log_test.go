package main

import (
	"strings"
	"sync"
	"testing"
)

const defaultRequestLogCapacity = 1000

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// requestLog is a bounded ring of the requests seen by a fake server.
type requestLog struct {
	mu       sync.Mutex
	buffer   []recordedRequest
	head     int
	count    int
	capacity int
}

func newRequestLog(capacity int) *requestLog {
	if capacity <= 0 {
		capacity = defaultRequestLogCapacity
	}

	return &requestLog{
		buffer:   make([]recordedRequest, capacity),
		capacity: capacity,
	}
}

func (l *requestLog) Log(req recordedRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < l.capacity {
		idx := (l.head + l.count) % l.capacity
		l.buffer[idx] = req
		l.count++
		return
	}

	l.buffer[l.head] = req
	l.head = (l.head + 1) % l.capacity
}

// List returns the requests oldest first.
func (l *requestLog) List() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]recordedRequest, 0, l.count)
	for i := 0; i < l.count; i++ {
		result = append(result, l.buffer[(l.head+i)%l.capacity])
	}

	return result
}

func (l *requestLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.head = 0
	l.count = 0
}

// Count returns how many requests used method on a path starting with prefix.
func (l *requestLog) Count(method, prefix string) int {
	n := 0
	for _, req := range l.List() {
		if req.Method == method && strings.HasPrefix(req.Path, prefix) {
			n++
		}
	}

	return n
}

func TestRequestLog_KeepsOrder(t *testing.T) {
	l := newRequestLog(3)
	l.Log(recordedRequest{Path: "/a"})
	l.Log(recordedRequest{Path: "/b"})

	got := l.List()
	if len(got) != 2 || got[0].Path != "/a" || got[1].Path != "/b" {
		t.Errorf("List() = %v, want [/a /b]", got)
	}
}

func TestRequestLog_Overwrites(t *testing.T) {
	l := newRequestLog(2)
	for _, p := range []string{"/a", "/b", "/c"} {
		l.Log(recordedRequest{Method: "GET", Path: p})
	}

	got := l.List()
	if len(got) != 2 || got[0].Path != "/b" || got[1].Path != "/c" {
		t.Errorf("List() = %v, want [/b /c]", got)
	}

	if n := l.Count("GET", "/"); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	l.Clear()

	if got := l.List(); len(got) != 0 {
		t.Errorf("List() after Clear = %v, want empty", got)
	}
}
