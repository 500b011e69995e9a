package engine

import (
	"context"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/migrate"
)

type countingDispatcher struct{ sends int }

func (d *countingDispatcher) Send(context.Context, string, string, map[string]string) error {
	d.sends++
	return nil
}

// A pass that decided on a forced delay from a stale read must back off when
// the conditional write finds the record already moved on: no status change,
// no supervisor alert, and a skip in the result.
func TestLostDelayRaceIsSkipped(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Escalation.Supervisors = []config.Contact{{Name: "manager", Phone: "010-9999-0000"}}
	disp := &countingDispatcher{}
	e := New(conn, cfg, disp)
	e.Now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	if _, err := e.CreateParticipant(ctx, "p1", "Kim", "010-1111-2222", "tester"); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	a, err := e.CreateAssignment(ctx, AssignmentCreateOptions{
		PrimaryID: "p1", Couple: "Han & Seo", Date: "2024-06-01",
		StartTime: "16:00", ArrivalTime: "15:30", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if _, err := e.Confirm(ctx, a.ID, "p1", "p1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	disp.sends = 0

	// The worker reports wakeup after the pass took its snapshot.
	if _, err := e.ReportProgress(ctx, ReportOptions{
		AssignmentID: a.ID, ParticipantID: "p1", Status: domain.ProgressWakeup, ActorID: "p1",
	}); err != nil {
		t.Fatalf("report wakeup: %v", err)
	}
	stale := domain.ProgressRecord{AssignmentID: a.ID, ParticipantID: "p1", Status: domain.ProgressPending}

	out, due := decide("departure", stale.Status)
	if !due || !out.hasDelay {
		t.Fatalf("expected a forced delay for a pending record in the departure window, got %+v due=%v", out, due)
	}
	res := e.applyOutcome(ctx, a, stale, out, time.Date(2024, 6, 1, 10, 20, 0, 0, time.UTC))
	if res.Action != ActionSkipped || res.Error != "" {
		t.Fatalf("expected skip on lost race, got %+v", res)
	}
	if disp.sends != 0 {
		t.Fatalf("no supervisor alert on a lost race, got %d sends", disp.sends)
	}
	rec, err := e.Repo.GetProgress(ctx, a.ID, "p1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if rec.Status != domain.ProgressWakeup {
		t.Fatalf("worker report overwritten: %s", rec.Status)
	}
}
