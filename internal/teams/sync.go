package teams

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Service is the team push channel exposed by the backend runtime.
type Service interface {
	// List returns the names of teams the backend knows about.
	List(ctx context.Context) ([]string, error)

	// GetSnapshot fetches the current snapshot; ok=false means the team
	// does not exist (yet) on the backend.
	GetSnapshot(ctx context.Context, teamName string) (Snapshot, bool, error)

	// Refresh is a fire-and-forget hint asking the backend to re-emit.
	Refresh(ctx context.Context, teamName string) error

	// OnSnapshot subscribes to unsolicited snapshot deliveries. The
	// returned handle unregisters the listener; disposal is idempotent.
	OnSnapshot(ctx context.Context, fn func(teamName string, snap Snapshot)) (func(), error)
}

// Synchronizer reconciles backend team snapshots into a local view.
// Visibility is by explicit tracking: snapshots for untracked teams are
// discarded. Reconciliation is always a full replace; a snapshot whose
// backend version is older than the last applied one is ignored.
type Synchronizer struct {
	svc Service

	mu      sync.RWMutex
	teams   map[string]Team
	tracked map[string]struct{}

	subMu       sync.Mutex
	subs        map[int]func(teamName string)
	nextSub     int
	unsubscribe func()
}

func NewSynchronizer(svc Service) *Synchronizer {
	return &Synchronizer{
		svc:     svc,
		teams:   map[string]Team{},
		tracked: map[string]struct{}{},
		subs:    map[int]func(string){},
	}
}

// Start begins consuming the push channel. Stop (or ctx cancellation)
// ends it.
func (s *Synchronizer) Start(ctx context.Context) error {
	if s.svc == nil {
		return nil
	}
	unsubscribe, err := s.svc.OnSnapshot(ctx, func(teamName string, snap Snapshot) {
		s.ApplySnapshot(teamName, snap)
	})
	if err != nil {
		return err
	}
	s.subMu.Lock()
	s.unsubscribe = unsubscribe
	s.subMu.Unlock()
	return nil
}

func (s *Synchronizer) Stop() {
	s.subMu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.subMu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Track marks a team visible going forward, hints the backend to re-emit,
// and fetches one snapshot immediately. A failed fetch leaves the team
// absent; a later live update can still populate it.
func (s *Synchronizer) Track(ctx context.Context, teamName string) {
	if teamName == "" {
		return
	}
	s.mu.Lock()
	s.tracked[teamName] = struct{}{}
	s.mu.Unlock()

	if s.svc == nil {
		return
	}
	_ = s.svc.Refresh(ctx, teamName)
	snap, ok, err := s.svc.GetSnapshot(ctx, teamName)
	if err != nil || !ok {
		return
	}
	s.ApplySnapshot(teamName, snap)
}

// Refresh re-requests a snapshot for an already tracked team.
func (s *Synchronizer) Refresh(ctx context.Context, teamName string) {
	if s.svc == nil || !s.IsTracked(teamName) {
		return
	}
	_ = s.svc.Refresh(ctx, teamName)
	snap, ok, err := s.svc.GetSnapshot(ctx, teamName)
	if err != nil || !ok {
		return
	}
	s.ApplySnapshot(teamName, snap)
}

// ApplySnapshot fully replaces the cached state for teamName and stamps
// the local reconciliation time. Untracked teams and stale versions are
// silently discarded. It reports whether the snapshot was applied.
func (s *Synchronizer) ApplySnapshot(teamName string, snap Snapshot) bool {
	if teamName == "" {
		return false
	}
	s.mu.Lock()
	if _, ok := s.tracked[teamName]; !ok {
		s.mu.Unlock()
		return false
	}
	if existing, ok := s.teams[teamName]; ok && snap.Version > 0 && snap.Version <= existing.version {
		s.mu.Unlock()
		return false
	}
	s.teams[teamName] = Team{
		Name:      teamName,
		Config:    snap.Config,
		Tasks:     append([]Task(nil), snap.Tasks...),
		Inboxes:   cloneInboxes(snap.Inboxes),
		UpdatedAt: time.Now().UTC(),
		version:   snap.Version,
	}
	s.mu.Unlock()

	s.notify(teamName)
	return true
}

// Untrack hides a team and drops its cached state.
func (s *Synchronizer) Untrack(teamName string) {
	s.mu.Lock()
	delete(s.tracked, teamName)
	delete(s.teams, teamName)
	s.mu.Unlock()
	s.notify(teamName)
}

// Team returns a copy of the reconciled state for teamName.
func (s *Synchronizer) Team(teamName string) (Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[teamName]
	if !ok {
		return Team{}, false
	}
	return team.clone(), true
}

// Teams returns copies of all reconciled teams, sorted by name.
func (s *Synchronizer) Teams() []Team {
	s.mu.RLock()
	out := make([]Team, 0, len(s.teams))
	for _, team := range s.teams {
		out = append(out, team.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tracked returns the tracked team names, sorted.
func (s *Synchronizer) Tracked() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.tracked))
	for name := range s.tracked {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Synchronizer) IsTracked(teamName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracked[teamName]
	return ok
}

// Subscribe registers a change listener and returns a handle that
// unregisters it; disposing the handle twice is harmless.
func (s *Synchronizer) Subscribe(fn func(teamName string)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Synchronizer) notify(teamName string) {
	s.subMu.Lock()
	listeners := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(teamName)
	}
}

func cloneInboxes(in map[string][]InboxMessage) map[string][]InboxMessage {
	if in == nil {
		return nil
	}
	out := make(map[string][]InboxMessage, len(in))
	for agent, messages := range in {
		out[agent] = append([]InboxMessage(nil), messages...)
	}
	return out
}
