package memory

import (
	"context"
	"fmt"
	"sync"
)

// ReceiptAllocator issues receipt numbers from an in-memory counter per
// session. Numbers are unique and strictly increasing.
type ReceiptAllocator struct {
	mu     sync.Mutex
	prefix string
	last   map[string]int64
}

// NewReceiptAllocator constructs an allocator.
func NewReceiptAllocator(prefix string) *ReceiptAllocator {
	if prefix == "" {
		prefix = "RCP"
	}
	return &ReceiptAllocator{prefix: prefix, last: make(map[string]int64)}
}

// Next returns the next receipt number for a session.
func (a *ReceiptAllocator) Next(ctx context.Context, session string) (string, error) {
	_ = ctx
	a.mu.Lock()
	a.last[session]++
	value := a.last[session]
	a.mu.Unlock()
	return fmt.Sprintf("%s-%s-%06d", a.prefix, session, value), nil
}
