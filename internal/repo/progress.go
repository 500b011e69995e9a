package repo

import (
	"context"
	"database/sql"

	"crewline/internal/domain"
)

const progressColumns = `assignment_id,participant_id,role,status,memo,estimated_time,reported_at,created_at,updated_at`

func scanProgress(scan func(dest ...any) error) (domain.ProgressRecord, error) {
	var p domain.ProgressRecord
	var memo, estimated, reported sql.NullString
	err := scan(&p.AssignmentID, &p.ParticipantID, &p.Role, &p.Status, &memo, &estimated, &reported, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if memo.Valid {
		p.Memo = memo.String
	}
	if estimated.Valid {
		p.EstimatedTime = estimated.String
	}
	if reported.Valid {
		p.ReportedAt = reported.String
	}
	return p, nil
}

// InsertProgress seeds a record. Existing rows are left untouched so the
// seed can run again without clobbering reported progress.
func (r Repo) InsertProgress(ctx context.Context, tx *sql.Tx, p domain.ProgressRecord) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT OR IGNORE INTO progress_records(`+progressColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.AssignmentID, p.ParticipantID, p.Role, p.Status, nullable(p.Memo), nullable(p.EstimatedTime), nullable(p.ReportedAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProgress(ctx context.Context, assignmentID, participantID string) (domain.ProgressRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM progress_records WHERE assignment_id=? AND participant_id=?`,
		assignmentID, participantID)
	return scanProgress(row.Scan)
}

func (r Repo) ListProgressByAssignment(ctx context.Context, assignmentID string) ([]domain.ProgressRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+progressColumns+` FROM progress_records WHERE assignment_id=? ORDER BY role ASC, participant_id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressRecord
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProgressStatusIf flips status only when the row still holds the
// expected status. Returns false when another writer got there first.
func (r Repo) UpdateProgressStatusIf(ctx context.Context, tx *sql.Tx, assignmentID, participantID string, expected, next domain.ProgressStatus, updatedAt string) (bool, error) {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE progress_records SET status=?, updated_at=? WHERE assignment_id=? AND participant_id=? AND status=?`,
		next, updatedAt, assignmentID, participantID, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateProgressReportIf applies a self-report, again conditioned on the
// status the caller read.
func (r Repo) UpdateProgressReportIf(ctx context.Context, tx *sql.Tx, p domain.ProgressRecord, expected domain.ProgressStatus) (bool, error) {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE progress_records SET status=?, memo=?, estimated_time=?, reported_at=?, updated_at=? WHERE assignment_id=? AND participant_id=? AND status=?`,
		p.Status, nullable(p.Memo), nullable(p.EstimatedTime), nullable(p.ReportedAt), p.UpdatedAt, p.AssignmentID, p.ParticipantID, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
