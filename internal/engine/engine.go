package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/notify"
	"crewline/internal/repo"
)

var (
	// ErrNotAllowed marks requests the actor or state machine forbids.
	ErrNotAllowed = errors.New("not allowed")
	// ErrStaleTransition marks writes that lost a race: the row moved on
	// between the caller's read and its conditional update.
	ErrStaleTransition = errors.New("stale transition")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Notify notify.Dispatcher
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, dispatcher notify.Dispatcher) Engine {
	if dispatcher == nil {
		dispatcher = notify.LogDispatcher{}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Notify: dispatcher,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// AssignmentCreateOptions are parameters for creating an assignment.
type AssignmentCreateOptions struct {
	ID          string
	PrimaryID   string
	SecondaryID string
	Couple      string
	Date        string
	StartTime   string
	ArrivalTime string
	Venue       string
	Location    string
	Memo        string
	ActorID     string
}

func (e Engine) CreateAssignment(ctx context.Context, opts AssignmentCreateOptions) (domain.Assignment, error) {
	if opts.Couple == "" {
		return domain.Assignment{}, errors.New("couple is required")
	}
	if opts.PrimaryID == "" {
		return domain.Assignment{}, errors.New("primary participant is required")
	}
	if _, err := time.Parse("2006-01-02", opts.Date); err != nil {
		return domain.Assignment{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	if _, err := time.Parse("15:04", opts.StartTime); err != nil {
		return domain.Assignment{}, fmt.Errorf("start_time must be HH:MM: %w", err)
	}
	if opts.ArrivalTime != "" {
		if _, err := time.Parse("15:04", opts.ArrivalTime); err != nil {
			return domain.Assignment{}, fmt.Errorf("arrival_time must be HH:MM: %w", err)
		}
	}
	if _, err := e.Repo.GetParticipant(ctx, opts.PrimaryID); err != nil {
		return domain.Assignment{}, fmt.Errorf("primary participant: %w", err)
	}
	if opts.SecondaryID != "" {
		if opts.SecondaryID == opts.PrimaryID {
			return domain.Assignment{}, errors.New("secondary participant must differ from primary")
		}
		if _, err := e.Repo.GetParticipant(ctx, opts.SecondaryID); err != nil {
			return domain.Assignment{}, fmt.Errorf("secondary participant: %w", err)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	a := domain.Assignment{
		ID:          id,
		PrimaryID:   opts.PrimaryID,
		SecondaryID: optionalString(opts.SecondaryID),
		Couple:      opts.Couple,
		Date:        opts.Date,
		StartTime:   opts.StartTime,
		ArrivalTime: optionalString(opts.ArrivalTime),
		Venue:       opts.Venue,
		Location:    opts.Location,
		Memo:        opts.Memo,
		Status:      domain.AssignmentAssigned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assignment.created", "assignment", a.ID, opts.ActorID, events.EventPayload{
		"couple": a.Couple,
		"date":   a.Date,
		"status": a.Status,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// AssignmentUpdateOptions carry a partial update. Nil fields are untouched.
type AssignmentUpdateOptions struct {
	PrimaryID   *string
	SecondaryID *string
	Couple      *string
	Date        *string
	StartTime   *string
	ArrivalTime *string
	Venue       *string
	Location    *string
	Memo        *string
	Status      *string
	ActorID     string
}

func (e Engine) UpdateAssignment(ctx context.Context, id string, opts AssignmentUpdateOptions) (domain.Assignment, error) {
	a, err := e.Repo.GetAssignment(ctx, id)
	if err != nil {
		return domain.Assignment{}, err
	}
	prevStatus := a.Status
	if opts.PrimaryID != nil {
		if *opts.PrimaryID == "" {
			return domain.Assignment{}, errors.New("primary participant is required")
		}
		if _, err := e.Repo.GetParticipant(ctx, *opts.PrimaryID); err != nil {
			return domain.Assignment{}, fmt.Errorf("primary participant: %w", err)
		}
		a.PrimaryID = *opts.PrimaryID
	}
	if opts.SecondaryID != nil {
		if *opts.SecondaryID == "" {
			a.SecondaryID = nil
		} else {
			if _, err := e.Repo.GetParticipant(ctx, *opts.SecondaryID); err != nil {
				return domain.Assignment{}, fmt.Errorf("secondary participant: %w", err)
			}
			a.SecondaryID = opts.SecondaryID
		}
	}
	if a.SecondaryID != nil && *a.SecondaryID == a.PrimaryID {
		return domain.Assignment{}, errors.New("secondary participant must differ from primary")
	}
	if opts.Couple != nil {
		a.Couple = *opts.Couple
	}
	if opts.Date != nil {
		if _, err := time.Parse("2006-01-02", *opts.Date); err != nil {
			return domain.Assignment{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
		a.Date = *opts.Date
	}
	if opts.StartTime != nil {
		if _, err := time.Parse("15:04", *opts.StartTime); err != nil {
			return domain.Assignment{}, fmt.Errorf("start_time must be HH:MM: %w", err)
		}
		a.StartTime = *opts.StartTime
	}
	if opts.ArrivalTime != nil {
		if *opts.ArrivalTime == "" {
			a.ArrivalTime = nil
		} else {
			if _, err := time.Parse("15:04", *opts.ArrivalTime); err != nil {
				return domain.Assignment{}, fmt.Errorf("arrival_time must be HH:MM: %w", err)
			}
			a.ArrivalTime = opts.ArrivalTime
		}
	}
	if opts.Venue != nil {
		a.Venue = *opts.Venue
	}
	if opts.Location != nil {
		a.Location = *opts.Location
	}
	if opts.Memo != nil {
		a.Memo = *opts.Memo
	}
	if opts.Status != nil && *opts.Status != a.Status {
		if !domain.CanTransitionAssignment(a.Status, *opts.Status) {
			return domain.Assignment{}, fmt.Errorf("%w: assignment %s -> %s", ErrStaleTransition, a.Status, *opts.Status)
		}
		a.Status = *opts.Status
	}
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, err
	}
	payload := events.EventPayload{"status": a.Status}
	if a.Status != prevStatus {
		payload["previous_status"] = prevStatus
	}
	if err := e.Events.Append(ctx, tx, "assignment.updated", "assignment", a.ID, opts.ActorID, payload); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

func (e Engine) DeleteAssignment(ctx context.Context, id, actorID string) error {
	a, err := e.Repo.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteAssignment(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "assignment.deleted", "assignment", id, actorID, events.EventPayload{"couple": a.Couple, "date": a.Date}); err != nil {
		return err
	}
	return tx.Commit()
}

// ConfirmResult reports one confirmation attempt.
type ConfirmResult struct {
	AssignmentID string `json:"assignment_id"`
	Success      bool   `json:"success"`
	Confirmed    bool   `json:"confirmed"`
	Message      string `json:"message"`
}

// Confirm records a participant's acceptance of an assignment. When the
// last required participant confirms, the assignment flips to confirmed,
// progress tracking rows are seeded, and both participants are notified.
// The flip happens at most once, so notifications cannot repeat.
func (e Engine) Confirm(ctx context.Context, assignmentID, participantID, actorID string) (ConfirmResult, error) {
	a, err := e.Repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}
	if !a.IsRequiredParticipant(participantID) {
		return ConfirmResult{AssignmentID: assignmentID}, fmt.Errorf("%w: %s is not assigned to %s", ErrNotAllowed, participantID, assignmentID)
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertConfirmation(ctx, tx, assignmentID, participantID, now); err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.confirmation", "assignment", assignmentID, actorID, events.EventPayload{
		"participant_id": participantID,
	}); err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}

	res := ConfirmResult{AssignmentID: assignmentID, Success: true}
	if a.Status == domain.AssignmentConfirmed {
		res.Confirmed = true
		res.Message = "already confirmed"
		if err := tx.Commit(); err != nil {
			return ConfirmResult{AssignmentID: assignmentID}, err
		}
		return res, nil
	}

	confirmed, err := e.Repo.ConfirmedParticipants(ctx, tx, assignmentID)
	if err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}
	if !containsAll(confirmed, a.RequiredParticipants()) {
		res.Message = "confirmation recorded, waiting for remaining participants"
		if err := tx.Commit(); err != nil {
			return ConfirmResult{AssignmentID: assignmentID}, err
		}
		return res, nil
	}

	// Quorum reached: flip and seed progress rows in the same tx.
	if err := e.Repo.SetAssignmentStatus(ctx, tx, assignmentID, domain.AssignmentConfirmed, now); err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}
	for i, pid := range a.RequiredParticipants() {
		role := "MAIN"
		if i > 0 {
			role = "SUB"
		}
		rec := domain.ProgressRecord{
			AssignmentID:  assignmentID,
			ParticipantID: pid,
			Role:          role,
			Status:        domain.ProgressPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertProgress(ctx, tx, rec); err != nil {
			return ConfirmResult{AssignmentID: assignmentID}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "assignment.confirmed", "assignment", assignmentID, actorID, events.EventPayload{
		"participants": a.RequiredParticipants(),
	}); err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}
	if err := tx.Commit(); err != nil {
		return ConfirmResult{AssignmentID: assignmentID}, err
	}

	res.Confirmed = true
	res.Message = "all participants confirmed"
	e.notifyParticipants(ctx, a, config.TemplateAssignmentConfirmed, map[string]string{
		"couple": a.Couple,
		"date":   a.Date,
		"time":   a.StartTime,
		"venue":  a.Venue,
	})
	return res, nil
}

// ConfirmBatch confirms several assignments for one participant. Each id is
// evaluated independently; one failure never blocks the rest.
func (e Engine) ConfirmBatch(ctx context.Context, assignmentIDs []string, participantID, actorID string) []ConfirmResult {
	results := make([]ConfirmResult, 0, len(assignmentIDs))
	for _, id := range assignmentIDs {
		res, err := e.Confirm(ctx, id, participantID, actorID)
		if err != nil {
			res.Success = false
			res.Message = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// ReportOptions carry a worker's self-reported milestone.
type ReportOptions struct {
	AssignmentID  string
	ParticipantID string
	Status        domain.ProgressStatus
	Memo          string
	EstimatedTime string
	ActorID       string
}

// ReportProgress applies a self-reported milestone. The write is conditioned
// on the status the record held when read, so a concurrent escalation pass
// cannot be silently overwritten.
func (e Engine) ReportProgress(ctx context.Context, opts ReportOptions) (domain.ProgressRecord, error) {
	if !opts.Status.Reportable() {
		return domain.ProgressRecord{}, fmt.Errorf("%w: %s is not a reportable status", ErrNotAllowed, opts.Status)
	}
	a, err := e.Repo.GetAssignment(ctx, opts.AssignmentID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	if a.Status != domain.AssignmentConfirmed {
		return domain.ProgressRecord{}, fmt.Errorf("%w: assignment %s is %s, not confirmed", ErrNotAllowed, a.ID, a.Status)
	}
	if !a.IsRequiredParticipant(opts.ParticipantID) {
		return domain.ProgressRecord{}, fmt.Errorf("%w: %s is not assigned to %s", ErrNotAllowed, opts.ParticipantID, opts.AssignmentID)
	}
	cur, err := e.Repo.GetProgress(ctx, opts.AssignmentID, opts.ParticipantID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	if !domain.CanReport(cur.Status, opts.Status) {
		return domain.ProgressRecord{}, fmt.Errorf("%w: cannot report %s from %s", ErrNotAllowed, opts.Status, cur.Status)
	}
	now := e.now().UTC().Format(time.RFC3339)
	next := cur
	next.Status = opts.Status
	next.ReportedAt = now
	next.UpdatedAt = now
	if opts.Memo != "" {
		next.Memo = opts.Memo
	}
	if opts.EstimatedTime != "" {
		next.EstimatedTime = opts.EstimatedTime
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateProgressReportIf(ctx, tx, next, cur.Status)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	if !ok {
		return domain.ProgressRecord{}, fmt.Errorf("%w: progress moved past %s", ErrStaleTransition, cur.Status)
	}
	if err := e.Events.Append(ctx, tx, "progress.reported", "progress", opts.AssignmentID, opts.ActorID, events.EventPayload{
		"participant_id": opts.ParticipantID,
		"status":         string(opts.Status),
		"previous":       string(cur.Status),
	}); err != nil {
		return domain.ProgressRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgressRecord{}, err
	}
	return next, nil
}

// AssignmentView is an assignment with its per-participant progress rows.
type AssignmentView struct {
	Assignment domain.Assignment       `json:"assignment"`
	Progress   []domain.ProgressRecord `json:"progress,omitempty"`
}

// TodayAssignments returns the confirmed assignments for a date, each with
// its progress rows. When participantID is set, the list is restricted to
// that participant and their finished assignments drop out.
func (e Engine) TodayAssignments(ctx context.Context, date, participantID string) ([]AssignmentView, error) {
	if date == "" {
		date = e.now().Format("2006-01-02")
	}
	list, err := e.Repo.ListAssignments(ctx, repo.AssignmentFilters{
		Date:          date,
		Status:        domain.AssignmentConfirmed,
		ParticipantID: participantID,
	})
	if err != nil {
		return nil, err
	}
	var res []AssignmentView
	for _, a := range list {
		progress, err := e.Repo.ListProgressByAssignment(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if participantID != "" && participantFinished(progress, participantID) {
			continue
		}
		res = append(res, AssignmentView{Assignment: a, Progress: progress})
	}
	return res, nil
}

func participantFinished(progress []domain.ProgressRecord, participantID string) bool {
	for _, p := range progress {
		if p.ParticipantID != participantID {
			continue
		}
		return p.Status == domain.ProgressCompleted || p.Status == domain.ProgressCanceled
	}
	return false
}

// PendingConfirmation is an assigned (not yet confirmed) assignment from one
// participant's point of view.
type PendingConfirmation struct {
	Assignment  domain.Assignment `json:"assignment"`
	ConfirmedBy []string          `json:"confirmed_by,omitempty"`
	Confirmed   bool              `json:"confirmed"`
}

// AssignedAssignments lists the assignments still awaiting the participant's
// confirmation, newest date last.
func (e Engine) AssignedAssignments(ctx context.Context, participantID string) ([]PendingConfirmation, error) {
	list, err := e.Repo.ListAssignments(ctx, repo.AssignmentFilters{
		Status:        domain.AssignmentAssigned,
		ParticipantID: participantID,
	})
	if err != nil {
		return nil, err
	}
	var res []PendingConfirmation
	for _, a := range list {
		confirmed, err := e.Repo.ConfirmedParticipants(ctx, nil, a.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, PendingConfirmation{
			Assignment:  a,
			ConfirmedBy: confirmed,
			Confirmed:   contains(confirmed, participantID),
		})
	}
	return res, nil
}

func (e Engine) ListProgress(ctx context.Context, assignmentID string) ([]domain.ProgressRecord, error) {
	if _, err := e.Repo.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	return e.Repo.ListProgressByAssignment(ctx, assignmentID)
}

func (e Engine) CreateParticipant(ctx context.Context, id, name, phone, actorID string) (domain.Participant, error) {
	if name == "" {
		return domain.Participant{}, errors.New("name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Participant{
		ID:        id,
		Name:      name,
		Phone:     phone,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "participant.created", "participant", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

// MintAPIKey issues a new API key for a participant. The plaintext key is
// returned exactly once; only its hash is stored.
func (e Engine) MintAPIKey(ctx context.Context, participantID, name, actorID string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetParticipant(ctx, participantID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "cwk_" + hex.EncodeToString(raw)
	k := domain.APIKey{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Name:          name,
		KeyHash:       repo.HashAPIKey(plaintext),
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, plaintext, nil
}

// notifyParticipants fans a message out to everyone on the assignment.
// Best-effort: failures land in the event log only.
func (e Engine) notifyParticipants(ctx context.Context, a domain.Assignment, templateKey string, params map[string]string) {
	for _, pid := range a.RequiredParticipants() {
		p, err := e.Repo.GetParticipant(ctx, pid)
		if err != nil || p.Phone == "" {
			continue
		}
		_ = e.send(ctx, p.Phone, templateKey, params)
	}
}

// send records a failed delivery as a notify.failed event and returns the
// error so escalation passes can surface it in their result list. The state
// write that triggered the send is never rolled back over a delivery
// failure.
func (e Engine) send(ctx context.Context, recipient, templateKey string, params map[string]string) error {
	code := templateKey
	if e.Config != nil {
		code = e.Config.Template(templateKey)
	}
	if err := e.Notify.Send(ctx, recipient, code, params); err != nil {
		e.recordNotifyFailure(ctx, templateKey, recipient, err)
		return err
	}
	return nil
}

func (e Engine) recordNotifyFailure(ctx context.Context, templateKey, recipient string, sendErr error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "notify.failed", "notification", "", "system", events.EventPayload{
		"template":  templateKey,
		"recipient": notify.NormalizePhone(recipient),
		"error":     sendErr.Error(),
	}); err != nil {
		return
	}
	_ = tx.Commit()
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !contains(have, w) {
			return false
		}
	}
	return true
}
