package repo

import (
	"context"
	"database/sql"

	"crewline/internal/domain"
)

// UpsertConfirmation records that a participant confirmed an assignment.
// Re-confirming keeps the first confirmed_at.
func (r Repo) UpsertConfirmation(ctx context.Context, tx *sql.Tx, assignmentID, participantID, confirmedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO confirmations(assignment_id,participant_id,confirmed,confirmed_at) VALUES (?,?,1,?)
		ON CONFLICT(assignment_id,participant_id) DO UPDATE SET confirmed=1, confirmed_at=COALESCE(confirmations.confirmed_at, excluded.confirmed_at)`,
		assignmentID, participantID, confirmedAt)
	return err
}

func (r Repo) GetConfirmation(ctx context.Context, assignmentID, participantID string) (domain.ConfirmationRecord, error) {
	var c domain.ConfirmationRecord
	var confirmedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT assignment_id,participant_id,confirmed,confirmed_at FROM confirmations WHERE assignment_id=? AND participant_id=?`,
		assignmentID, participantID).Scan(&c.AssignmentID, &c.ParticipantID, &c.Confirmed, &confirmedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if confirmedAt.Valid {
		c.ConfirmedAt = confirmedAt.String
	}
	return c, nil
}

// ConfirmedParticipants returns participant ids with a confirmed row for the
// assignment. The tx variant lets quorum checks read their own writes.
func (r Repo) ConfirmedParticipants(ctx context.Context, tx *sql.Tx, assignmentID string) ([]string, error) {
	query := r.DB.QueryContext
	if tx != nil {
		query = tx.QueryContext
	}
	rows, err := query(ctx, `SELECT participant_id FROM confirmations WHERE assignment_id=? AND confirmed=1`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r Repo) ListConfirmations(ctx context.Context, assignmentID string) ([]domain.ConfirmationRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT assignment_id,participant_id,confirmed,confirmed_at FROM confirmations WHERE assignment_id=? ORDER BY participant_id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConfirmationRecord
	for rows.Next() {
		var c domain.ConfirmationRecord
		var confirmedAt sql.NullString
		if err := rows.Scan(&c.AssignmentID, &c.ParticipantID, &c.Confirmed, &confirmedAt); err != nil {
			return nil, err
		}
		if confirmedAt.Valid {
			c.ConfirmedAt = confirmedAt.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
