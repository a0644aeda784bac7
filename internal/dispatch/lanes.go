package dispatch

import (
	"log/slog"
	"sync"
)

// lanes runs jobs one at a time per key while different keys run
// concurrently. A key's worker exits when its queue drains.
type lanes struct {
	cap int

	mu     sync.Mutex
	queues map[string]*lane
	wg     sync.WaitGroup
}

type lane struct {
	jobs []func()
}

func newLanes(capacity int) *lanes {
	if capacity <= 0 {
		capacity = 32
	}
	return &lanes{cap: capacity, queues: make(map[string]*lane)}
}

// enqueue appends job to key's lane. It returns false and drops the job when
// the lane is full.
func (l *lanes) enqueue(key string, job func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, active := l.queues[key]
	if !active {
		q = &lane{}
		l.queues[key] = q
	}
	if len(q.jobs) >= l.cap {
		slog.Warn("dispatch lane full, message dropped", "sender", key, "cap", l.cap)
		return false
	}
	q.jobs = append(q.jobs, job)
	if !active {
		l.wg.Add(1)
		go l.run(key, q)
	}
	return true
}

func (l *lanes) run(key string, q *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(q.jobs) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		l.mu.Unlock()

		job()
	}
}

// wait blocks until every lane is idle.
func (l *lanes) wait() { l.wg.Wait() }
