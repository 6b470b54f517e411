package progress

import (
	"sync"

	"scholardock/pkg/models"
)

type subscriber struct {
	out   chan models.ProgressEvent
	wake  chan struct{}
	quit  chan struct{}
	limit int

	mu       sync.Mutex
	queue    []models.ProgressEvent
	finished bool
	stopOnce sync.Once
}

func newSubscriber(limit int) *subscriber {
	return &subscriber{
		out:   make(chan models.ProgressEvent),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		limit: limit,
	}
}

// push queues ev and reports false when the queue is full.
func (s *subscriber) push(ev models.ProgressEvent) bool {
	s.mu.Lock()
	if len(s.queue) >= s.limit {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
	return true
}

// finish lets the pump drain what is queued, then close out.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

// stop closes out without draining.
func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- ev:
			case <-s.quit:
				return
			}
			continue
		}
		finished := s.finished
		s.mu.Unlock()
		if finished {
			return
		}
		select {
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}
