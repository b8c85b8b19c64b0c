package storage

import (
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "github.com/odvcencio/cardhost/pkg/errors"
)

// LaunchRecord is one application launch, open until ClosedAt is set.
// ID is a per-row ULID; instance identifiers repeat across daemon runs
// because process ids restart at 1, so they cannot key the table.
type LaunchRecord struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instanceId"`
	AppID      string     `json:"appId"`
	ProcessID  string     `json:"processId"`
	Parameters string     `json:"parameters,omitempty"`
	LaunchedAt time.Time  `json:"launchedAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

// RecordLaunch inserts a launch row, retrying transient lock errors.
// A missing ID is assigned.
func (s *Store) RecordLaunch(record LaunchRecord) error {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.LaunchedAt.IsZero() {
		record.LaunchedAt = time.Now()
	}

	query := `
		INSERT INTO launches (id, instance_id, app_id, process_id, parameters, launched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err = s.db.Exec(query,
			record.ID,
			record.InstanceID,
			record.AppID,
			record.ProcessID,
			record.Parameters,
			record.LaunchedAt,
		)
		if err == nil {
			return nil
		}
		if isBusyError(err) && attempt < maxRetries {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "insert launch row")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "insert launch row")
}

// RecordClose stamps the close time on the newest open launch row for
// instanceID. Unknown instances are ignored.
func (s *Store) RecordClose(instanceID string, closedAt time.Time) error {
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	_, err := s.db.Exec(`
		UPDATE launches SET closed_at = ?
		WHERE id = (
			SELECT id FROM launches
			WHERE instance_id = ? AND closed_at IS NULL
			ORDER BY launched_at DESC LIMIT 1
		)
	`, closedAt, instanceID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "stamp launch close")
	}
	return nil
}

// UpdateParameters records the parameters delivered by a relaunch on the
// newest open launch row for instanceID.
func (s *Store) UpdateParameters(instanceID, parameters string) error {
	_, err := s.db.Exec(`
		UPDATE launches SET parameters = ?
		WHERE id = (
			SELECT id FROM launches
			WHERE instance_id = ? AND closed_at IS NULL
			ORDER BY launched_at DESC LIMIT 1
		)
	`, parameters, instanceID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "update launch parameters")
	}
	return nil
}

// GetLaunch returns the newest launch row for instanceID, or nil if unknown.
func (s *Store) GetLaunch(instanceID string) (*LaunchRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, instance_id, app_id, process_id, parameters, launched_at, closed_at
		FROM launches WHERE instance_id = ?
		ORDER BY launched_at DESC LIMIT 1
	`, instanceID)
	record, err := scanLaunch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "read launch row")
	}
	return record, nil
}

// RecentLaunches returns up to limit launches, newest first. appID filters
// to one application when non-empty.
func (s *Store) RecentLaunches(appID string, limit int) ([]LaunchRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, instance_id, app_id, process_id, parameters, launched_at, closed_at
		FROM launches
	`
	args := []any{}
	if appID != "" {
		query += " WHERE app_id = ?"
		args = append(args, appID)
	}
	query += " ORDER BY launched_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "query launch history")
	}
	defer rows.Close()

	var records []LaunchRecord
	for rows.Next() {
		record, err := scanLaunch(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "scan launch row")
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "iterate launch rows")
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row scanner) (*LaunchRecord, error) {
	var record LaunchRecord
	var closed sql.NullTime
	if err := row.Scan(
		&record.ID,
		&record.InstanceID,
		&record.AppID,
		&record.ProcessID,
		&record.Parameters,
		&record.LaunchedAt,
		&closed,
	); err != nil {
		return nil, err
	}
	if closed.Valid {
		record.ClosedAt = &closed.Time
	}
	return &record, nil
}
