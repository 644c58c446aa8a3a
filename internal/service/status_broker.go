package service

import (
	"sync"

	"github.com/noah-isme/coder-judge-api/internal/dto"
)

const statusEventBufferSize = 8

type statusBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.SubmissionStatusEvent]struct{}
}

func newStatusBroker() *statusBroker {
	return &statusBroker{subscribers: make(map[uint]map[chan dto.SubmissionStatusEvent]struct{})}
}

func (b *statusBroker) subscribe(submissionID uint) chan dto.SubmissionStatusEvent {
	ch := make(chan dto.SubmissionStatusEvent, statusEventBufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[submissionID]; !exists {
		b.subscribers[submissionID] = make(map[chan dto.SubmissionStatusEvent]struct{})
	}
	b.subscribers[submissionID][ch] = struct{}{}
	return ch
}

func (b *statusBroker) unsubscribe(submissionID uint, ch chan dto.SubmissionStatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.subscribers[submissionID]
	if !ok {
		return
	}
	if _, ok := subscribers[ch]; !ok {
		return
	}
	delete(subscribers, ch)
	close(ch)
	if len(subscribers) == 0 {
		delete(b.subscribers, submissionID)
	}
}

// broadcast never blocks; slow subscribers miss events.
func (b *statusBroker) broadcast(event dto.SubmissionStatusEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for ch := range b.subscribers[event.SubmissionID] {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

func (b *statusBroker) count(submissionID uint) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[submissionID])
}
