package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// retryHold marks a holding key whose job is waiting for a delayed retry.
type retryHold struct {
	jobID    uuid.UUID
	deadline time.Time
}

// partition is one worker's queue. Routing never blocks on it, so a slow key
// only delays the keys that hash to the same partition.
//
// While a job is waiting for a retry, later deliveries for the same holding
// key are parked in arrival order and released ahead of the queue once that
// job settles or its hold expires.
type partition struct {
	mu     sync.Mutex
	queue  []Delivery
	holds  map[string]retryHold
	parked map[string][]Delivery
	wake   chan struct{}
}

func newPartition() *partition {
	return &partition{
		holds:  make(map[string]retryHold),
		parked: make(map[string][]Delivery),
		wake:   make(chan struct{}, 1),
	}
}

func (p *partition) push(del Delivery) {
	p.mu.Lock()
	p.queue = append(p.queue, del)
	p.mu.Unlock()
	p.signal()
}

func (p *partition) pop() (Delivery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Delivery{}, false
	}
	del := p.queue[0]
	p.queue[0] = Delivery{}
	p.queue = p.queue[1:]
	return del, true
}

func (p *partition) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// park holds del back when another job for its key is waiting for a retry.
// The retry delivery itself is never parked.
func (p *partition) park(key string, del Delivery, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hold, ok := p.holds[key]
	if !ok || hold.jobID == del.Envelope.Job.JobID {
		return false
	}
	if now.After(hold.deadline) {
		p.releaseLocked(key, del)
		return true
	}
	p.parked[key] = append(p.parked[key], del)
	return true
}

// hold records that jobID will be redelivered for key within wait.
func (p *partition) hold(key string, jobID uuid.UUID, wait time.Duration, now time.Time) {
	p.mu.Lock()
	p.holds[key] = retryHold{jobID: jobID, deadline: now.Add(wait)}
	p.mu.Unlock()
}

// settle lifts the hold jobID had on key and requeues what was parked behind it.
func (p *partition) settle(key string, jobID uuid.UUID) {
	p.mu.Lock()
	hold, ok := p.holds[key]
	released := ok && hold.jobID == jobID
	if released {
		p.releaseLocked(key)
	}
	p.mu.Unlock()
	if released {
		p.signal()
	}
}

// expire releases holds whose retry never arrived.
func (p *partition) expire(now time.Time) int {
	p.mu.Lock()
	n := 0
	for key, hold := range p.holds {
		if now.After(hold.deadline) {
			p.releaseLocked(key)
			n++
		}
	}
	p.mu.Unlock()
	if n > 0 {
		p.signal()
	}
	return n
}

// releaseLocked puts the parked deliveries for key, followed by next, at the
// head of the queue.
func (p *partition) releaseLocked(key string, next ...Delivery) {
	delete(p.holds, key)
	head := append(p.parked[key], next...)
	delete(p.parked, key)
	if len(head) == 0 {
		return
	}
	p.queue = append(head, p.queue...)
}

func (p *partition) parkedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.parked {
		n += len(list)
	}
	return n
}

// drain empties the queue and the parked lists.
func (p *partition) drain() []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	for key, list := range p.parked {
		out = append(out, list...)
		delete(p.parked, key)
	}
	for key := range p.holds {
		delete(p.holds, key)
	}
	return out
}
