package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crewline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const assignmentColumns = `id,primary_participant_id,secondary_participant_id,couple,date,start_time,arrival_time,venue,location,memo,status,created_at,updated_at`

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	var secondary, arrival, venue, location, memo sql.NullString
	err := scan(&a.ID, &a.PrimaryID, &secondary, &a.Couple, &a.Date, &a.StartTime, &arrival, &venue, &location, &memo, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if secondary.Valid {
		a.SecondaryID = &secondary.String
	}
	if arrival.Valid {
		a.ArrivalTime = &arrival.String
	}
	if venue.Valid {
		a.Venue = venue.String
	}
	if location.Valid {
		a.Location = location.String
	}
	if memo.Valid {
		a.Memo = memo.String
	}
	return a, nil
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO assignments(`+assignmentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.PrimaryID, nullableStringPtr(a.SecondaryID), a.Couple, a.Date, a.StartTime,
		nullableStringPtr(a.ArrivalTime), nullable(a.Venue), nullable(a.Location), nullable(a.Memo),
		a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

func (r Repo) UpdateAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE assignments SET primary_participant_id=?, secondary_participant_id=?, couple=?, date=?, start_time=?, arrival_time=?, venue=?, location=?, memo=?, status=?, updated_at=? WHERE id=?`,
		a.PrimaryID, nullableStringPtr(a.SecondaryID), a.Couple, a.Date, a.StartTime,
		nullableStringPtr(a.ArrivalTime), nullable(a.Venue), nullable(a.Location), nullable(a.Memo),
		a.Status, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAssignmentStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE assignments SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAssignment removes an assignment together with its confirmation and
// progress rows.
func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, id string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM progress_records WHERE assignment_id=?`, id); err != nil {
		return err
	}
	if _, err := exec(ctx, `DELETE FROM confirmations WHERE assignment_id=?`, id); err != nil {
		return err
	}
	res, err := exec(ctx, `DELETE FROM assignments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type AssignmentFilters struct {
	Date          string
	FromDate      string
	Status        string
	ParticipantID string
	Limit         int
}

func (r Repo) ListAssignments(ctx context.Context, f AssignmentFilters) ([]domain.Assignment, error) {
	var clauses []string
	var args []any
	if f.Date != "" {
		clauses = append(clauses, "date=?")
		args = append(args, f.Date)
	}
	if f.FromDate != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, f.FromDate)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, "(primary_participant_id=? OR secondary_participant_id=?)")
		args = append(args, f.ParticipantID, f.ParticipantID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + assignmentColumns + ` FROM assignments ` + where + ` ORDER BY date ASC, start_time ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO participants(id,name,phone,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, nullable(p.Phone), p.CreatedAt)
	return err
}

func (r Repo) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var p domain.Participant
	var phone sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,phone,created_at FROM participants WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &phone, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if phone.Valid {
		p.Phone = phone.String
	}
	return p, nil
}

func (r Repo) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,phone,created_at FROM participants ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var p domain.Participant
		var phone sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &phone, &p.CreatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			p.Phone = phone.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
