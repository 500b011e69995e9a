package engine_test

import (
	"testing"
	"time"

	"crewline/internal/domain"
	"crewline/internal/engine"
)

// The fixture assignment is on 2024-06-01 with ceremony at 16:00 and an
// arrival target of 15:30. With the default 1h30m buffer the on-site
// deadline (eta) is 14:00, which puts the windows at:
//
//	wakeup        10:00 - 10:15
//	departure     10:20 - 10:35
//	arrival check 10:40 - 10:55
//	eta           14:00 - 14:15
//	wrap-up       17:00 - 17:15
func at(hour, min, sec int) *time.Time {
	ts := time.Date(2024, 6, 1, hour, min, sec, 0, time.UTC)
	return &ts
}

func newEscalationEnv(t *testing.T) (testEnv, domain.Assignment) {
	t.Helper()
	env := newTestEnv(t)
	a := env.createAssignment(t, "p1", "p2")
	env.confirmAll(t, a)
	env.Dispatch.reset()
	return env, a
}

func (env testEnv) progressStatus(t *testing.T, assignmentID, participantID string) domain.ProgressStatus {
	t.Helper()
	rec, err := env.Engine.Repo.GetProgress(env.Ctx, assignmentID, participantID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	return rec.Status
}

func TestWakeupWindowSendsReminder(t *testing.T) {
	env, a := newEscalationEnv(t)
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 0, 5))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected a result per participant, got %d", len(report.Results))
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionWakeupReminder || r.Error != "" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	// reminders never touch the status
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressPending {
		t.Fatalf("status changed by reminder: %s", got)
	}
	if env.Dispatch.count() != 2 {
		t.Fatalf("expected 2 reminders, got %d", env.Dispatch.count())
	}
}

func TestDepartureWindowForcesWakeupDelayed(t *testing.T) {
	env, a := newEscalationEnv(t)
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 20, 10))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionWakeupDelayed {
			t.Fatalf("expected wakeup_delayed, got %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressWakeupDelayed {
		t.Fatalf("expected wakeup_delayed, got %s", got)
	}
	// supervisors are alerted once per overdue record
	if env.Dispatch.count() != 2 {
		t.Fatalf("expected 2 supervisor alerts, got %d", env.Dispatch.count())
	}
	for _, s := range env.Dispatch.Sends {
		if s.Recipient != "010-9999-0000" {
			t.Fatalf("alert went to %s, not the supervisor", s.Recipient)
		}
	}
}

func TestDepartureWindowRemindsAfterWakeup(t *testing.T) {
	env, a := newEscalationEnv(t)
	if _, err := env.Engine.ReportProgress(env.Ctx, engine.ReportOptions{
		AssignmentID: a.ID, ParticipantID: "p1", Status: domain.ProgressWakeup, ActorID: "p1",
	}); err != nil {
		t.Fatalf("report wakeup: %v", err)
	}
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 20, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	var p1Action, p2Action engine.PassAction
	for _, r := range report.Results {
		switch r.ParticipantID {
		case "p1":
			p1Action = r.Action
		case "p2":
			p2Action = r.Action
		}
	}
	if p1Action != engine.ActionDepartureReminder {
		t.Fatalf("p1 expected departure reminder, got %s", p1Action)
	}
	if p2Action != engine.ActionWakeupDelayed {
		t.Fatalf("p2 expected wakeup_delayed, got %s", p2Action)
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressWakeup {
		t.Fatalf("p1 status must stay wakeup, got %s", got)
	}
}

func TestWindowBoundariesAreHalfOpen(t *testing.T) {
	env, a := newEscalationEnv(t)
	// exactly at the end of the wakeup window: no window contains now
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 15, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 0 || env.Dispatch.count() != 0 {
		t.Fatalf("10:15:00 is outside the wakeup window: %+v", report.Results)
	}
	// exactly at the start is inside
	report, err = env.Engine.RunEscalationPass(env.Ctx, at(10, 0, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("10:00:00 is inside the wakeup window, got %d results", len(report.Results))
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressPending {
		t.Fatalf("unexpected status %s", got)
	}
}

func TestLatestWindowWins(t *testing.T) {
	env, a := newEscalationEnv(t)
	// a record that slept through wakeup and departure converges straight
	// to departure_delayed in the arrival check window
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 40, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionDepartureDelayed {
			t.Fatalf("expected departure_delayed, got %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressDepartureDelayed {
		t.Fatalf("expected departure_delayed, got %s", got)
	}
}

func TestEtaWindowForcesArrivalDelayed(t *testing.T) {
	env, a := newEscalationEnv(t)
	for _, s := range []domain.ProgressStatus{domain.ProgressWakeup, domain.ProgressDeparture} {
		if _, err := env.Engine.ReportProgress(env.Ctx, engine.ReportOptions{
			AssignmentID: a.ID, ParticipantID: "p1", Status: s, ActorID: "p1",
		}); err != nil {
			t.Fatalf("report %s: %v", s, err)
		}
	}
	env.Dispatch.reset()
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(14, 0, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionArrivalDelayed {
			t.Fatalf("expected arrival_delayed, got %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressArrivalDelayed {
		t.Fatalf("expected arrival_delayed, got %s", got)
	}
}

func TestEtaWindowLeavesArrivedAlone(t *testing.T) {
	env, a := newEscalationEnv(t)
	for _, s := range []domain.ProgressStatus{domain.ProgressWakeup, domain.ProgressDeparture, domain.ProgressArrival} {
		if _, err := env.Engine.ReportProgress(env.Ctx, engine.ReportOptions{
			AssignmentID: a.ID, ParticipantID: "p1", Status: s, ActorID: "p1",
		}); err != nil {
			t.Fatalf("report %s: %v", s, err)
		}
	}
	env.Dispatch.reset()
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(14, 0, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	for _, r := range report.Results {
		if r.ParticipantID == "p1" {
			t.Fatalf("arrived participant owed nothing, got %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressArrival {
		t.Fatalf("expected arrival untouched, got %s", got)
	}
}

func TestWrapupWindowRemindsCompletion(t *testing.T) {
	env, a := newEscalationEnv(t)
	for _, s := range []domain.ProgressStatus{domain.ProgressWakeup, domain.ProgressDeparture, domain.ProgressArrival} {
		if _, err := env.Engine.ReportProgress(env.Ctx, engine.ReportOptions{
			AssignmentID: a.ID, ParticipantID: "p1", Status: s, ActorID: "p1",
		}); err != nil {
			t.Fatalf("report %s: %v", s, err)
		}
	}
	env.Dispatch.reset()
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(17, 0, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	var p1Seen bool
	for _, r := range report.Results {
		if r.ParticipantID == "p1" {
			p1Seen = true
			if r.Action != engine.ActionCompletionReminder {
				t.Fatalf("expected completion reminder, got %+v", r)
			}
		}
	}
	if !p1Seen {
		t.Fatalf("expected completion reminder for p1")
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressArrival {
		t.Fatalf("reminder must not change status, got %s", got)
	}
}

func TestWrapupWindowRemindsStalledRecords(t *testing.T) {
	env, a := newEscalationEnv(t)
	// both participants slept through every window and are still pending at
	// ceremony+1h
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(17, 0, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected completion reminders for both stalled participants, got %+v", report.Results)
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionCompletionReminder || r.Error != "" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressPending {
		t.Fatalf("reminder must not change status, got %s", got)
	}

	// once p1 finishes, only p2 is still owed the nudge
	for _, s := range []domain.ProgressStatus{domain.ProgressWakeup, domain.ProgressDeparture, domain.ProgressArrival, domain.ProgressCompleted} {
		if _, err := env.Engine.ReportProgress(env.Ctx, engine.ReportOptions{
			AssignmentID: a.ID, ParticipantID: "p1", Status: s, ActorID: "p1",
		}); err != nil {
			t.Fatalf("report %s: %v", s, err)
		}
	}
	report, err = env.Engine.RunEscalationPass(env.Ctx, at(17, 1, 0))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].ParticipantID != "p2" {
		t.Fatalf("expected a reminder only for p2, got %+v", report.Results)
	}
}

func TestPassIsIdempotentOnDelayedRecords(t *testing.T) {
	env, a := newEscalationEnv(t)
	if _, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 20, 10)); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	env.Dispatch.reset()
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 21, 0))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	// already wakeup_delayed: the second pass downgrades to a departure
	// reminder instead of re-forcing and re-alerting
	for _, r := range report.Results {
		if r.Action == engine.ActionWakeupDelayed {
			t.Fatalf("delayed state forced twice: %+v", r)
		}
		if r.Action != engine.ActionDepartureReminder {
			t.Fatalf("expected departure reminder, got %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressWakeupDelayed {
		t.Fatalf("status must stay wakeup_delayed, got %s", got)
	}
}

func TestPassSkipsUnconfirmedAndOtherDates(t *testing.T) {
	env := newTestEnv(t)
	// assigned but unconfirmed
	env.createAssignment(t, "p1", "p2")
	// confirmed but on another date
	other, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		PrimaryID: "p1", Couple: "Cho & Yang", Date: "2024-06-08",
		StartTime: "16:00", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.confirmAll(t, other)
	env.Dispatch.reset()

	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 0, 5))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if report.Checked != 0 || len(report.Results) != 0 || env.Dispatch.count() != 0 {
		t.Fatalf("expected zero work, got checked=%d results=%d sends=%d",
			report.Checked, len(report.Results), env.Dispatch.count())
	}
}

func TestDeliveryFailureDoesNotBlockStatusWrite(t *testing.T) {
	env, a := newEscalationEnv(t)
	env.Dispatch.Fail = true
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 20, 10))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressWakeupDelayed {
		t.Fatalf("delivery failure must not block the write, got %s", got)
	}
	// the failed supervisor alert still shows up in the result list
	for _, r := range report.Results {
		if r.Action != engine.ActionWakeupDelayed || r.Error == "" {
			t.Fatalf("expected the delivery failure surfaced, got %+v", r)
		}
	}
	var n int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='notify.failed'`)
	if err := row.Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatalf("expected failed deliveries recorded as events")
	}
}

func TestReminderDeliveryFailureSurfacesInResults(t *testing.T) {
	env, a := newEscalationEnv(t)
	env.Dispatch.Fail = true
	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 0, 5))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected a result per participant, got %+v", report.Results)
	}
	for _, r := range report.Results {
		if r.Action != engine.ActionWakeupReminder || r.Error == "" {
			t.Fatalf("expected wakeup reminder with delivery error, got %+v", r)
		}
	}
	if got := env.progressStatus(t, a.ID, "p1"); got != domain.ProgressPending {
		t.Fatalf("reminder failure must not change status, got %s", got)
	}
}

func TestEtaFallsBackToCeremonyStart(t *testing.T) {
	env := newTestEnv(t)
	// no arrival target: eta = 16:00 - 1h30m = 14:30, wakeup at 10:30
	a, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		PrimaryID: "p1", Couple: "Oh & Im", Date: "2024-06-01",
		StartTime: "16:00", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.confirmAll(t, a)
	env.Dispatch.reset()

	report, err := env.Engine.RunEscalationPass(env.Ctx, at(10, 30, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Action != engine.ActionWakeupReminder {
		t.Fatalf("expected wakeup reminder at 10:30, got %+v", report.Results)
	}
	// and 10:00 is before every window for this assignment
	report, err = env.Engine.RunEscalationPass(env.Ctx, at(10, 0, 0))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(report.Results) != 0 {
		t.Fatalf("expected nothing due at 10:00, got %+v", report.Results)
	}
}
