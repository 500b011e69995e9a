package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// PassAction names the single thing an escalation pass did for one
// participant on one assignment.
type PassAction string

const (
	ActionWakeupReminder     PassAction = "wakeup_reminder"
	ActionDepartureReminder  PassAction = "departure_reminder"
	ActionArrivalReminder    PassAction = "arrival_reminder"
	ActionCompletionReminder PassAction = "completion_reminder"
	ActionWakeupDelayed      PassAction = "wakeup_delayed"
	ActionDepartureDelayed   PassAction = "departure_delayed"
	ActionArrivalDelayed     PassAction = "arrival_delayed"
	// ActionSkipped means the conditional write found the record already
	// moved on, so nothing was done.
	ActionSkipped PassAction = "skipped"
)

// PassResult reports one action taken (or attempted) during a pass.
type PassResult struct {
	AssignmentID  string     `json:"assignment_id"`
	ParticipantID string     `json:"participant_id"`
	Action        PassAction `json:"action"`
	Error         string     `json:"error,omitempty"`
}

// PassReport summarizes a whole escalation pass.
type PassReport struct {
	Date    string       `json:"date"`
	RanAt   string       `json:"ran_at" format:"date-time"`
	Checked int          `json:"checked"`
	Results []PassResult `json:"results,omitempty"`
}

type windowAnchor int

const (
	anchorETA windowAnchor = iota
	anchorCeremony
)

type windowSpec struct {
	name   string
	anchor windowAnchor
	offset time.Duration
}

// escalationWindows are ordered latest-first. A pass evaluates only the
// latest window containing now, so a record that slept through earlier
// windows converges straight to the most overdue milestone.
var escalationWindows = []windowSpec{
	{name: "wrapup", anchor: anchorCeremony, offset: time.Hour},
	{name: "eta", anchor: anchorETA, offset: 0},
	{name: "arrival_check", anchor: anchorETA, offset: -(3*time.Hour + 20*time.Minute)},
	{name: "departure", anchor: anchorETA, offset: -(3*time.Hour + 40*time.Minute)},
	{name: "wakeup", anchor: anchorETA, offset: -4 * time.Hour},
}

type outcome struct {
	action      PassAction
	remindKey   string
	delayTo     domain.ProgressStatus
	alertKey    string
	hasDelay    bool
	hasReminder bool
}

// decide maps the active window and the record's current status to the one
// action owed, if any.
func decide(window string, status domain.ProgressStatus) (outcome, bool) {
	behindWakeup := status == domain.ProgressPending
	behindDeparture := behindWakeup || status == domain.ProgressWakeup || status == domain.ProgressWakeupDelayed
	behindArrival := behindDeparture || status == domain.ProgressDeparture || status == domain.ProgressDepartureDelayed
	finished := status == domain.ProgressCompleted || status == domain.ProgressCanceled

	switch window {
	case "wakeup":
		if behindWakeup {
			return outcome{action: ActionWakeupReminder, remindKey: config.TemplateWakeupReminder, hasReminder: true}, true
		}
	case "departure":
		if behindWakeup {
			return outcome{action: ActionWakeupDelayed, delayTo: domain.ProgressWakeupDelayed, alertKey: config.TemplateWakeupDelayAlert, hasDelay: true}, true
		}
		if behindDeparture {
			return outcome{action: ActionDepartureReminder, remindKey: config.TemplateDepartureReminder, hasReminder: true}, true
		}
	case "arrival_check":
		if behindDeparture {
			return outcome{action: ActionDepartureDelayed, delayTo: domain.ProgressDepartureDelayed, alertKey: config.TemplateDepartureDelayAlert, hasDelay: true}, true
		}
		if behindArrival {
			return outcome{action: ActionArrivalReminder, remindKey: config.TemplateArrivalReminder, hasReminder: true}, true
		}
	case "eta":
		if behindArrival {
			return outcome{action: ActionArrivalDelayed, delayTo: domain.ProgressArrivalDelayed, alertKey: config.TemplateArrivalDelayAlert, hasDelay: true}, true
		}
	case "wrapup":
		// Anyone not done an hour after the ceremony gets the nudge,
		// wherever they stalled.
		if !finished {
			return outcome{action: ActionCompletionReminder, remindKey: config.TemplateCompletionReminder, hasReminder: true}, true
		}
	}
	return outcome{}, false
}

// anchors computes the eta and ceremony instants for an assignment. The eta
// is the on-site deadline: the stated arrival target, or the ceremony start
// when none is set, minus the arrival buffer.
func (e Engine) anchors(a domain.Assignment, loc *time.Location) (eta, ceremony time.Time, err error) {
	ceremony, err = time.ParseInLocation("2006-01-02 15:04", a.Date+" "+a.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("assignment %s start time: %w", a.ID, err)
	}
	base := ceremony
	if a.ArrivalTime != nil && *a.ArrivalTime != "" {
		base, err = time.ParseInLocation("2006-01-02 15:04", a.Date+" "+*a.ArrivalTime, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("assignment %s arrival time: %w", a.ID, err)
		}
	}
	buffer := config.Default().ArrivalBuffer()
	if e.Config != nil {
		buffer = e.Config.ArrivalBuffer()
	}
	return base.Add(-buffer), ceremony, nil
}

// activeWindow returns the latest window whose half-open interval
// [start, start+width) contains now.
func activeWindow(now, eta, ceremony time.Time, width time.Duration) (windowSpec, bool) {
	for _, w := range escalationWindows {
		start := eta.Add(w.offset)
		if w.anchor == anchorCeremony {
			start = ceremony.Add(w.offset)
		}
		if !now.Before(start) && now.Before(start.Add(width)) {
			return w, true
		}
	}
	return windowSpec{}, false
}

// RunEscalationPass checks every confirmed assignment for the current date
// against the escalation windows, sends the reminders that are due, forces
// overdue records into their delayed shadow state, and alerts supervisors.
// Per-record failures land in the report; the pass itself never aborts on
// one bad record, and a failed delivery never blocks a status write.
func (e Engine) RunEscalationPass(ctx context.Context, nowOverride *time.Time) (PassReport, error) {
	now := e.now()
	if nowOverride != nil {
		now = *nowOverride
	}
	width := config.Default().Window()
	if e.Config != nil {
		width = e.Config.Window()
	}
	date := now.Format("2006-01-02")
	report := PassReport{Date: date, RanAt: now.UTC().Format(time.RFC3339)}

	list, err := e.Repo.ListAssignments(ctx, repo.AssignmentFilters{Date: date, Status: domain.AssignmentConfirmed})
	if err != nil {
		return report, err
	}
	for _, a := range list {
		eta, ceremony, err := e.anchors(a, now.Location())
		if err != nil {
			report.Results = append(report.Results, PassResult{AssignmentID: a.ID, Error: err.Error()})
			continue
		}
		win, ok := activeWindow(now, eta, ceremony, width)
		if !ok {
			continue
		}
		progress, err := e.Repo.ListProgressByAssignment(ctx, a.ID)
		if err != nil {
			report.Results = append(report.Results, PassResult{AssignmentID: a.ID, Error: err.Error()})
			continue
		}
		for _, rec := range progress {
			report.Checked++
			out, due := decide(win.name, rec.Status)
			if !due {
				continue
			}
			res := e.applyOutcome(ctx, a, rec, out, now)
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

func (e Engine) applyOutcome(ctx context.Context, a domain.Assignment, rec domain.ProgressRecord, out outcome, now time.Time) PassResult {
	res := PassResult{AssignmentID: a.ID, ParticipantID: rec.ParticipantID, Action: out.action}
	params := map[string]string{
		"couple": a.Couple,
		"date":   a.Date,
		"time":   a.StartTime,
		"venue":  a.Venue,
	}
	if out.hasDelay {
		applied, err := e.forceDelay(ctx, a.ID, rec, out.delayTo, now)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if !applied {
			// A worker report landed between our read and the write;
			// their status stands and no one is alerted.
			res.Action = ActionSkipped
			return res
		}
		// Supervisors hear about the delay even if the participant's
		// own reminders failed earlier.
		p, err := e.Repo.GetParticipant(ctx, rec.ParticipantID)
		if err == nil {
			params["participant"] = p.Name
		}
		params["status"] = string(out.delayTo)
		if err := e.alertSupervisors(ctx, out.alertKey, params); err != nil {
			res.Error = err.Error()
		}
		return res
	}
	if out.hasReminder {
		p, err := e.Repo.GetParticipant(ctx, rec.ParticipantID)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if p.Phone == "" {
			res.Error = "participant has no phone"
			return res
		}
		if err := e.send(ctx, p.Phone, out.remindKey, params); err != nil {
			res.Error = err.Error()
		}
	}
	return res
}

// forceDelay flips the record into its delayed shadow state, conditioned on
// the status observed by this pass. Losing the race means a worker reported
// in the meantime, which is not an error; the caller learns via the applied
// flag.
func (e Engine) forceDelay(ctx context.Context, assignmentID string, rec domain.ProgressRecord, to domain.ProgressStatus, now time.Time) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	stamp := now.UTC().Format(time.RFC3339)
	ok, err := e.Repo.UpdateProgressStatusIf(ctx, tx, assignmentID, rec.ParticipantID, rec.Status, to, stamp)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := e.Events.Append(ctx, tx, "progress.delayed", "progress", assignmentID, "system", events.EventPayload{
		"participant_id": rec.ParticipantID,
		"status":         string(to),
		"previous":       string(rec.Status),
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) alertSupervisors(ctx context.Context, templateKey string, params map[string]string) error {
	if e.Config == nil {
		return nil
	}
	var errs []error
	for _, s := range e.Config.Escalation.Supervisors {
		if s.Phone == "" {
			continue
		}
		if err := e.send(ctx, s.Phone, templateKey, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
