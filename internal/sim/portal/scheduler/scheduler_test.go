package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func key() Key {
	return Key{Viewer: uuid.New(), Portal: uuid.New()}
}

type recorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recorder) add(j Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, j)
	r.mu.Unlock()
}

func (r *recorder) forKey(k Key) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if j.Key == k {
			out = append(out, j)
		}
	}
	return out
}

func waitOrFail(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not go idle")
	}
}

// blocker holds the first job of gateKey until release is closed.
type blocker struct {
	gateKey Key
	started chan struct{}
	release chan struct{}
	once    sync.Once
	rec     recorder
}

func newBlocker(k Key) *blocker {
	return &blocker{gateKey: k, started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blocker) handle(j Job) {
	b.rec.add(j)
	if j.Key == b.gateKey {
		first := false
		b.once.Do(func() { first = true })
		if first {
			close(b.started)
			<-b.release
		}
	}
}

func TestSubmit_MergesWhileQueued(t *testing.T) {
	gate, k := key(), key()
	b := newBlocker(gate)
	s := New(1, b.handle, zap.NewNop())
	defer s.Close()

	s.Submit(Job{Key: gate})
	<-b.started
	s.Submit(Job{Key: k, Eye: mgl64.Vec3{1, 0, 0}, Refresh: true})
	s.Submit(Job{Key: k, Eye: mgl64.Vec3{2, 0, 0}})
	s.Submit(Job{Key: k, Eye: mgl64.Vec3{3, 0, 0}})
	close(b.release)
	waitOrFail(t, s)

	jobs := b.rec.forKey(k)
	if len(jobs) != 1 {
		t.Fatalf("queued key ran %d times, want 1", len(jobs))
	}
	if jobs[0].Eye != (mgl64.Vec3{3, 0, 0}) || !jobs[0].Refresh {
		t.Fatalf("merged job: %+v", jobs[0])
	}
	if st := s.Stats(); st.Merged != 2 || st.Ran != 2 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestSubmit_ParksOneFollowUpWhileRunning(t *testing.T) {
	gate, other := key(), key()
	b := newBlocker(gate)
	s := New(1, b.handle, zap.NewNop())
	defer s.Close()

	s.Submit(Job{Key: gate, Eye: mgl64.Vec3{0, 0, 0}})
	<-b.started
	s.Submit(Job{Key: gate, Eye: mgl64.Vec3{1, 0, 0}})
	s.Submit(Job{Key: gate, Eye: mgl64.Vec3{2, 0, 0}, Refresh: true})
	s.Submit(Job{Key: other})
	close(b.release)
	waitOrFail(t, s)

	jobs := b.rec.forKey(gate)
	if len(jobs) != 2 {
		t.Fatalf("running key ran %d times, want 2", len(jobs))
	}
	if jobs[1].Eye != (mgl64.Vec3{2, 0, 0}) || !jobs[1].Refresh {
		t.Fatalf("follow-up job: %+v", jobs[1])
	}
	if len(b.rec.forKey(other)) != 1 {
		t.Fatalf("other key should run once")
	}
	if st := s.Stats(); st.Parked != 1 || st.Merged != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestWorkers_SingleSlotPerKey(t *testing.T) {
	k := key()
	var mu sync.Mutex
	active, maxActive, runs := 0, 0, 0
	handle := func(Job) {
		mu.Lock()
		active++
		runs++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}
	s := New(4, handle, zap.NewNop())
	defer s.Close()
	for i := 0; i < 200; i++ {
		s.Submit(Job{Key: k, Eye: mgl64.Vec3{float64(i), 0, 0}})
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	waitOrFail(t, s)
	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Fatalf("key ran on %d workers at once", maxActive)
	}
	if runs == 0 || runs > 200 {
		t.Fatalf("runs: %d", runs)
	}
}

func TestDrop_RemovesQueuedJob(t *testing.T) {
	gate, k := key(), key()
	b := newBlocker(gate)
	s := New(1, b.handle, zap.NewNop())
	defer s.Close()

	s.Submit(Job{Key: gate})
	<-b.started
	s.Submit(Job{Key: k})
	s.Drop(k)
	close(b.release)
	waitOrFail(t, s)
	if n := len(b.rec.forKey(k)); n != 0 {
		t.Fatalf("dropped job ran %d times", n)
	}
}

func TestClose_DropsQueuedAndIgnoresLateSubmits(t *testing.T) {
	gate, k := key(), key()
	b := newBlocker(gate)
	s := New(1, b.handle, zap.NewNop())

	s.Submit(Job{Key: gate})
	<-b.started
	s.Submit(Job{Key: k})
	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	for {
		s.mu.Lock()
		c := s.closed
		s.mu.Unlock()
		if c {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(b.release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("close did not return")
	}
	s.Submit(Job{Key: k})
	s.Close()
	if n := len(b.rec.forKey(k)); n != 0 {
		t.Fatalf("queued job ran %d times after close", n)
	}
}
