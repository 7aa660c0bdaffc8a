package discovery

import "sync"

// Event is delivered to subscribers. It is one of UpEvent, DownEvent or
// ErrorEvent.
type Event interface {
	event()
}

// UpEvent reports a service that became Ready.
type UpEvent struct {
	Service *Service
}

// DownEvent reports a Ready service that was withdrawn.
type DownEvent struct {
	Service *Service
}

// ErrorEvent reports a failed candidate query or a browse failure. Address
// and Port are empty for browse failures.
type ErrorEvent struct {
	Address string
	Port    int
	Err     error
}

func (UpEvent) event()    {}
func (DownEvent) event()  {}
func (ErrorEvent) event() {}

// subscriber buffers events without bound so the pipeline never blocks on a
// slow consumer, and hands them out in order.
type subscriber struct {
	id  string
	out chan Event

	mu      sync.Mutex
	queue   []Event
	closing bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscriber(id string) *subscriber {
	s := &subscriber{
		id:   id,
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// finish closes the channel once everything queued has been delivered.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

// cancel closes the channel immediately, dropping queued events.
func (s *subscriber) cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
