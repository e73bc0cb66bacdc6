package pipeline

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/chatplan/internal/planner"
)

// Outcome is the terminal result of one run.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSuperseded Outcome = "superseded"
)

// State is an immutable snapshot of the pipeline as seen by callers.
type State struct {
	Plans     []planner.PlanRecord
	IsLoading bool
	Error     string
	RunID     string
	Outcome   Outcome
	UpdatedAt time.Time
}

type stateJSON struct {
	Plans     []planner.PlanRecord `json:"plans"`
	IsLoading bool                 `json:"isLoading"`
	Error     *string              `json:"error"`
	RunID     string               `json:"runId,omitempty"`
	Outcome   Outcome              `json:"outcome,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// MarshalJSON renders an empty error as null.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		Plans:     s.Plans,
		IsLoading: s.IsLoading,
		RunID:     s.RunID,
		Outcome:   s.Outcome,
		UpdatedAt: s.UpdatedAt,
	}
	if out.Plans == nil {
		out.Plans = []planner.PlanRecord{}
	}
	if s.Error != "" {
		e := s.Error
		out.Error = &e
	}
	return json.Marshal(out)
}

func (s State) clone() State {
	s.Plans = planner.ClonePlans(s.Plans)
	if s.Plans == nil {
		s.Plans = []planner.PlanRecord{}
	}
	return s
}

// StateStore holds the current snapshot. Only the owning Controller writes;
// any number of goroutines may Load or Subscribe. Snapshots are replaced as
// a whole, so a reader never sees a half-updated plan list.
type StateStore struct {
	current atomic.Pointer[State]

	mu   sync.Mutex
	subs map[int]chan State
	next int
}

func NewStateStore() *StateStore {
	s := &StateStore{subs: make(map[int]chan State)}
	s.current.Store(&State{Plans: []planner.PlanRecord{}})
	return s
}

// Load returns a copy of the current snapshot.
func (s *StateStore) Load() State {
	return s.current.Load().clone()
}

// Subscribe returns a channel that always holds the most recent snapshot not
// yet received. Slow readers skip intermediate states. The returned func
// unsubscribes and closes the channel.
func (s *StateStore) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	ch <- s.Load()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *StateStore) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *StateStore) store(st State) {
	snap := st.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(&snap)
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap.clone()
	}
}
