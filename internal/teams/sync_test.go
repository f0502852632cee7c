package teams

import (
	"context"
	"fmt"
	"testing"
)

type fakeService struct {
	snapshots map[string]Snapshot
	refreshed []string
	listErr   error
	getErr    error

	push func(teamName string, snap Snapshot)
}

func (f *fakeService) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.snapshots))
	for name := range f.snapshots {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeService) GetSnapshot(ctx context.Context, teamName string) (Snapshot, bool, error) {
	if f.getErr != nil {
		return Snapshot{}, false, f.getErr
	}
	snap, ok := f.snapshots[teamName]
	return snap, ok, nil
}

func (f *fakeService) Refresh(ctx context.Context, teamName string) error {
	f.refreshed = append(f.refreshed, teamName)
	return nil
}

func (f *fakeService) OnSnapshot(ctx context.Context, fn func(teamName string, snap Snapshot)) (func(), error) {
	f.push = fn
	return func() { f.push = nil }, nil
}

func TestTrackFetchesInitialSnapshot(t *testing.T) {
	svc := &fakeService{snapshots: map[string]Snapshot{
		"alpha": {
			Config:  &Config{Lead: "lead-1", Members: []Member{{Name: "worker-1"}}},
			Tasks:   []Task{{ID: "1", Description: "triage", Status: "pending"}},
			Inboxes: map[string][]InboxMessage{"worker-1": {{From: "lead-1", Text: "hello"}}},
			Version: 3,
		},
	}}
	sync := NewSynchronizer(svc)

	sync.Track(context.Background(), "alpha")

	team, ok := sync.Team("alpha")
	if !ok {
		t.Fatal("expected alpha after Track")
	}
	if team.Config == nil || team.Config.Lead != "lead-1" {
		t.Fatalf("Config=%+v, want lead-1", team.Config)
	}
	if len(team.Tasks) != 1 || team.Tasks[0].Description != "triage" {
		t.Fatalf("Tasks=%+v", team.Tasks)
	}
	if team.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt should be stamped locally")
	}
	if len(svc.refreshed) != 1 || svc.refreshed[0] != "alpha" {
		t.Fatalf("refreshed=%v, want [alpha]", svc.refreshed)
	}
}

func TestTrackFetchFailureLeavesTeamAbsent(t *testing.T) {
	svc := &fakeService{getErr: fmt.Errorf("backend down")}
	sync := NewSynchronizer(svc)

	sync.Track(context.Background(), "alpha")

	if _, ok := sync.Team("alpha"); ok {
		t.Fatal("failed fetch must not materialize a team")
	}
	if !sync.IsTracked("alpha") {
		t.Fatal("team should stay tracked so a later push can populate it")
	}

	// A later live delivery fills it in.
	svc.getErr = nil
	if !sync.ApplySnapshot("alpha", Snapshot{Version: 1}) {
		t.Fatal("snapshot for tracked team should apply")
	}
	if _, ok := sync.Team("alpha"); !ok {
		t.Fatal("expected alpha after live snapshot")
	}
}

func TestApplySnapshotDiscardsUntracked(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})

	if sync.ApplySnapshot("ghost", Snapshot{Version: 1}) {
		t.Fatal("untracked snapshot must be discarded")
	}
	if _, ok := sync.Team("ghost"); ok {
		t.Fatal("untracked team must not appear")
	}
}

func TestApplySnapshotFullReplace(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})
	sync.Track(context.Background(), "alpha")

	sync.ApplySnapshot("alpha", Snapshot{
		Tasks:   []Task{{ID: "1", Description: "old", Status: "pending"}, {ID: "2", Description: "stale", Status: "pending"}},
		Inboxes: map[string][]InboxMessage{"worker-1": {{From: "lead", Text: "old"}}},
		Version: 1,
	})
	sync.ApplySnapshot("alpha", Snapshot{
		Tasks:   []Task{{ID: "3", Description: "new", Status: "in_progress"}},
		Version: 2,
	})

	team, _ := sync.Team("alpha")
	if len(team.Tasks) != 1 || team.Tasks[0].ID != "3" {
		t.Fatalf("Tasks=%+v, want only task 3", team.Tasks)
	}
	if len(team.Inboxes) != 0 {
		t.Fatalf("Inboxes=%+v, want replaced away", team.Inboxes)
	}
}

func TestApplySnapshotRejectsStaleVersion(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})
	sync.Track(context.Background(), "alpha")

	sync.ApplySnapshot("alpha", Snapshot{Tasks: []Task{{ID: "5", Description: "current", Status: "pending"}}, Version: 5})
	if sync.ApplySnapshot("alpha", Snapshot{Tasks: []Task{{ID: "4", Description: "late", Status: "pending"}}, Version: 4}) {
		t.Fatal("older version must be rejected")
	}
	if sync.ApplySnapshot("alpha", Snapshot{Version: 5}) {
		t.Fatal("equal version must be rejected")
	}

	team, _ := sync.Team("alpha")
	if len(team.Tasks) != 1 || team.Tasks[0].ID != "5" {
		t.Fatalf("Tasks=%+v, want the version-5 state", team.Tasks)
	}

	// Unversioned snapshots always apply.
	if !sync.ApplySnapshot("alpha", Snapshot{Tasks: []Task{{ID: "6", Description: "manual", Status: "pending"}}}) {
		t.Fatal("snapshot without version must apply")
	}
}

func TestTeamsAreIndependent(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})
	ctx := context.Background()
	sync.Track(ctx, "alpha")
	sync.Track(ctx, "beta")

	sync.ApplySnapshot("alpha", Snapshot{Tasks: []Task{{ID: "a1", Description: "alpha work", Status: "pending"}}, Version: 1})
	sync.ApplySnapshot("beta", Snapshot{Tasks: []Task{{ID: "b1", Description: "beta work", Status: "done"}}, Version: 1})
	sync.ApplySnapshot("alpha", Snapshot{Tasks: nil, Version: 2})

	alpha, _ := sync.Team("alpha")
	beta, _ := sync.Team("beta")
	if len(alpha.Tasks) != 0 {
		t.Fatalf("alpha Tasks=%+v, want empty after replace", alpha.Tasks)
	}
	if len(beta.Tasks) != 1 || beta.Tasks[0].ID != "b1" {
		t.Fatalf("beta Tasks=%+v, want untouched", beta.Tasks)
	}

	all := sync.Teams()
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "beta" {
		t.Fatalf("Teams()=%+v, want alpha,beta sorted", all)
	}
}

func TestUntrackDropsStateAndFutureSnapshots(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})
	sync.Track(context.Background(), "alpha")
	sync.ApplySnapshot("alpha", Snapshot{Version: 1})

	sync.Untrack("alpha")
	if _, ok := sync.Team("alpha"); ok {
		t.Fatal("untracked team must drop cached state")
	}
	if sync.ApplySnapshot("alpha", Snapshot{Version: 2}) {
		t.Fatal("snapshots after Untrack must be discarded")
	}
}

func TestStartRoutesPushDeliveries(t *testing.T) {
	svc := &fakeService{}
	sync := NewSynchronizer(svc)
	if err := sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sync.Stop()

	sync.Track(context.Background(), "alpha")
	svc.push("alpha", Snapshot{Tasks: []Task{{ID: "1", Description: "pushed", Status: "pending"}}, Version: 1})
	svc.push("other", Snapshot{Version: 1})

	team, ok := sync.Team("alpha")
	if !ok || len(team.Tasks) != 1 || team.Tasks[0].Description != "pushed" {
		t.Fatalf("Team(alpha)=%+v ok=%v", team, ok)
	}
	if _, ok := sync.Team("other"); ok {
		t.Fatal("untracked push must be discarded")
	}

	sync.Stop()
	if svc.push != nil {
		t.Fatal("Stop should dispose the push subscription")
	}
}

func TestSubscribeNotifiesAndUnsubscribes(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})
	sync.Track(context.Background(), "alpha")

	var got []string
	unsubscribe := sync.Subscribe(func(teamName string) { got = append(got, teamName) })

	sync.ApplySnapshot("alpha", Snapshot{Version: 1})
	if len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("notifications=%v, want [alpha]", got)
	}

	unsubscribe()
	unsubscribe()
	sync.ApplySnapshot("alpha", Snapshot{Version: 2})
	if len(got) != 1 {
		t.Fatalf("notifications=%v, want none after unsubscribe", got)
	}
}

func TestTeamCopiesAreIsolated(t *testing.T) {
	sync := NewSynchronizer(&fakeService{})
	sync.Track(context.Background(), "alpha")
	sync.ApplySnapshot("alpha", Snapshot{
		Tasks:   []Task{{ID: "1", Description: "orig", Status: "pending"}},
		Inboxes: map[string][]InboxMessage{"w": {{From: "lead", Text: "orig"}}},
		Version: 1,
	})

	team, _ := sync.Team("alpha")
	team.Tasks[0].Description = "mutated"
	team.Inboxes["w"][0].Text = "mutated"

	again, _ := sync.Team("alpha")
	if again.Tasks[0].Description != "orig" || again.Inboxes["w"][0].Text != "orig" {
		t.Fatal("caller mutation leaked into cached state")
	}
}
