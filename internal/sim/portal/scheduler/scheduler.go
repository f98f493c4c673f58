// Package scheduler runs observer passes off the simulation goroutine. A
// viewer key is never queued twice: new submissions merge into the queued
// job, or park behind the running one.
package scheduler

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelportals.ai/internal/sim/portal/viewcache"
)

type Key struct {
	Viewer uuid.UUID
	Portal uuid.UUID
}

type Job struct {
	Key      Key
	Snapshot *viewcache.Snapshot
	Eye      mgl64.Vec3
	Refresh  bool
}

func (j *Job) merge(o Job) {
	j.Snapshot = o.Snapshot
	j.Eye = o.Eye
	j.Refresh = j.Refresh || o.Refresh
}

type Stats struct {
	Submitted uint64
	Merged    uint64
	Parked    uint64
	Ran       uint64
}

type Scheduler struct {
	log    *zap.Logger
	handle func(Job)

	mu      sync.Mutex
	idle    *sync.Cond
	queue   deque.Deque[Key]
	pending map[Key]*Job
	running map[Key]bool
	parked  map[Key]*Job
	stats   Stats
	closed  bool

	wake      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(workers int, handle func(Job), log *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		log:     log,
		handle:  handle,
		pending: map[Key]*Job{},
		running: map[Key]bool{},
		parked:  map[Key]*Job{},
		wake:    make(chan struct{}, workers),
		stop:    make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	log.Info("scheduler started", zap.Int("workers", workers))
	return s
}

// Submit queues j, or folds it into the job already waiting for its key. It
// never blocks on workers.
func (s *Scheduler) Submit(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stats.Submitted++
	if p, ok := s.pending[j.Key]; ok {
		p.merge(j)
		s.stats.Merged++
		return
	}
	if s.running[j.Key] {
		if p, ok := s.parked[j.Key]; ok {
			p.merge(j)
			s.stats.Merged++
			return
		}
		jj := j
		s.parked[j.Key] = &jj
		s.stats.Parked++
		return
	}
	s.enqueueLocked(j)
}

func (s *Scheduler) enqueueLocked(j Job) {
	jj := j
	s.pending[j.Key] = &jj
	s.queue.PushBack(j.Key)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Drop forgets any queued or parked job for key. A job already running is
// left alone.
func (s *Scheduler) Drop(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parked, key)
	if _, ok := s.pending[key]; !ok {
		return
	}
	delete(s.pending, key)
	for i := 0; i < s.queue.Len(); i++ {
		if s.queue.At(i) == key {
			s.queue.Remove(i)
			break
		}
	}
	s.idle.Broadcast()
}

func (s *Scheduler) next() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.queue.Len() == 0 {
		return Job{}, false
	}
	k := s.queue.PopFront()
	j := s.pending[k]
	delete(s.pending, k)
	s.running[k] = true
	return *j, true
}

func (s *Scheduler) done(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, k)
	s.stats.Ran++
	if p, ok := s.parked[k]; ok {
		delete(s.parked, k)
		if !s.closed {
			s.enqueueLocked(*p)
		}
	}
	s.idle.Broadcast()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		for {
			j, ok := s.next()
			if !ok {
				break
			}
			s.handle(j)
			s.done(j.Key)
		}
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// Wait blocks until nothing is queued, parked or running.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && (len(s.pending) > 0 || len(s.running) > 0 || len(s.parked) > 0) {
		s.idle.Wait()
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the workers after their current job. Queued jobs are dropped.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		dropped := len(s.pending) + len(s.parked)
		s.pending = map[Key]*Job{}
		s.parked = map[Key]*Job{}
		s.queue.Clear()
		s.idle.Broadcast()
		s.mu.Unlock()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("scheduler stopped", zap.Int("dropped", dropped))
	})
}
