package server

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/game"
	"github.com/veltro-project/blazingbarrels/internal/protocol"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// Pending is an authorization that has not been followed by a join yet.
type Pending struct {
	Name  string    `json:"name"`
	Addr  string    `json:"address"`
	Since time.Time `json:"since"`

	addr *net.UDPAddr
}

// UDPAddr returns the address the authorization was granted to.
func (p Pending) UDPAddr() *net.UDPAddr {
	return p.addr
}

type deauthTask struct {
	Pending
	cancel chan struct{}
}

// Supervisor runs one timer task per pending authorization. A task sends
// a warning after each delay and expires the authorization one delay after
// the last warning, unless the join cancels it first.
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*deauthTask

	warnings int
	delay    time.Duration
	send     func(protocol.Packet)
	onExpire func(Pending)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// NewSupervisor creates a supervisor. send enqueues warnings; onExpire is
// called from the task goroutine after an authorization has been revoked.
func NewSupervisor(warnings int, delay time.Duration, send func(protocol.Packet), onExpire func(Pending)) *Supervisor {
	if onExpire == nil {
		onExpire = func(Pending) {}
	}
	return &Supervisor{
		tasks:    make(map[string]*deauthTask),
		warnings: warnings,
		delay:    delay,
		send:     send,
		onExpire: onExpire,
		done:     make(chan struct{}),
		logger:   util.ComponentLogger("deauth"),
	}
}

// Arm starts supervising name. It returns false if name is already pending
// or the supervisor is closed.
func (s *Supervisor) Arm(name string, addr *net.UDPAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return false
	default:
	}

	key := game.Key(name)
	if _, ok := s.tasks[key]; ok {
		return false
	}

	t := &deauthTask{
		Pending: Pending{Name: name, Addr: addr.String(), Since: time.Now(), addr: addr},
		cancel:  make(chan struct{}),
	}
	s.tasks[key] = t

	s.wg.Add(1)
	go s.run(t)

	s.logger.Debug().Str("player", name).Stringer("remote", addr).Msg("authorization armed")
	return true
}

// Cancel stops the task for name and returns its authorization. It returns
// false if name is not pending, including when the task already expired.
func (s *Supervisor) Cancel(name string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := game.Key(name)
	t, ok := s.tasks[key]
	if !ok {
		return Pending{}, false
	}
	delete(s.tasks, key)
	close(t.cancel)
	return t.Pending, true
}

// Lookup returns the pending authorization for name.
func (s *Supervisor) Lookup(name string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[game.Key(name)]
	if !ok {
		return Pending{}, false
	}
	return t.Pending, true
}

// Len returns the number of pending authorizations.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// List returns the pending authorizations, oldest first.
func (s *Supervisor) List() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Pending)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Close cancels every task and waits for them to exit. No expiry fires
// after Close returns.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		for key, t := range s.tasks {
			close(t.cancel)
			delete(s.tasks, key)
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// wait blocks for one delay. It returns false if the task was cancelled
// meanwhile.
func (s *Supervisor) wait(t *deauthTask) bool {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-t.cancel:
		return false
	case <-timer.C:
	}
	// a cancel that raced the timer still wins
	select {
	case <-t.cancel:
		return false
	default:
		return true
	}
}

func (s *Supervisor) run(t *deauthTask) {
	defer s.wg.Done()

	warning := protocol.Packet{Addr: t.addr, Body: protocol.DeauthWarning{Username: t.Name}}
	for i := 0; i < s.warnings; i++ {
		if !s.wait(t) {
			return
		}
		s.send(warning)
		s.logger.Debug().Str("player", t.Name).Int("warning", i+1).Msg("sent deauth warning")
	}
	if !s.wait(t) {
		return
	}

	s.mu.Lock()
	key := game.Key(t.Name)
	if cur, ok := s.tasks[key]; !ok || cur != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()

	s.onExpire(t.Pending)
}
