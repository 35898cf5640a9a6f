package recordings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout keeps a fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordingColumns = "id, attempt_id, category, source, file_name, remote_address, local_ref, local_path, content_type, size_bytes, origin, for_mobile, local_only, error_message, created_at, uploaded_at"

// Record inserts a recording and returns its id. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, rec *Recording) (int64, error) {
	if rec == nil {
		return 0, errors.New("recording required")
	}
	if strings.TrimSpace(rec.Category) == "" || strings.TrimSpace(rec.FileName) == "" || strings.TrimSpace(rec.LocalRef) == "" {
		return 0, errors.New("recording requires category, file name, and local reference")
	}
	ctx = ensureContext(ctx)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO recordings (attempt_id, category, source, file_name, remote_address, local_ref, local_path, content_type, size_bytes, origin, for_mobile, local_only, error_message, created_at, uploaded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableString(rec.AttemptID),
			rec.Category,
			nullableString(rec.Source),
			rec.FileName,
			nullableString(rec.RemoteAddress),
			rec.LocalRef,
			nullableString(rec.LocalPath),
			nullableString(rec.ContentType),
			rec.SizeBytes,
			nullableString(rec.Origin),
			boolToInt(rec.ForMobile),
			boolToInt(rec.LocalOnly),
			nullableString(rec.ErrorMessage),
			rec.CreatedAt.UTC().Format(timeLayout),
			nullableTime(rec.UploadedAt),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}
	rec.ID = id
	return id, nil
}

// GetByID fetches a recording by id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Recording, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+recordingColumns+" FROM recordings WHERE id = ?", id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %d: %w", id, err)
	}
	return rec, nil
}

// List returns recordings newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Recording, error) {
	query := "SELECT " + recordingColumns + " FROM recordings"
	var (
		where []string
		args  []any
	)
	if category := strings.TrimSpace(opts.Category); category != "" {
		where = append(where, "category = ?")
		args = append(args, category)
	}
	if opts.LocalOnly != nil {
		where = append(where, "local_only = ?")
		args = append(args, boolToInt(*opts.LocalOnly))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Remove deletes a recording row. It reports whether a row existed.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove recording %d: %w", id, err)
	}
	return affected > 0, nil
}

// Stats summarizes the index.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		stats     Stats
		uploaded  sql.NullInt64
		localOnly sql.NullInt64
		bytes     sql.NullInt64
		latest    sql.NullString
	)
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1),
		SUM(CASE WHEN local_only = 0 THEN 1 ELSE 0 END),
		SUM(local_only),
		SUM(size_bytes),
		MAX(created_at)
		FROM recordings`)
	if err := row.Scan(&stats.Total, &uploaded, &localOnly, &bytes, &latest); err != nil {
		return Stats{}, fmt.Errorf("recording stats: %w", err)
	}
	stats.Uploaded = int(uploaded.Int64)
	stats.LocalOnly = int(localOnly.Int64)
	stats.Bytes = bytes.Int64
	if latest.Valid {
		if ts, err := parseTimeString(latest.String); err == nil {
			stats.Latest = &ts
		}
	}
	return stats, nil
}

func scanRecording(scanner interface{ Scan(dest ...any) error }) (*Recording, error) {
	var (
		rec           Recording
		attemptID     sql.NullString
		source        sql.NullString
		remoteAddress sql.NullString
		localPath     sql.NullString
		contentType   sql.NullString
		origin        sql.NullString
		forMobile     int64
		localOnly     int64
		errorMessage  sql.NullString
		createdRaw    string
		uploadedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&attemptID,
		&rec.Category,
		&source,
		&rec.FileName,
		&remoteAddress,
		&rec.LocalRef,
		&localPath,
		&contentType,
		&rec.SizeBytes,
		&origin,
		&forMobile,
		&localOnly,
		&errorMessage,
		&createdRaw,
		&uploadedRaw,
	); err != nil {
		return nil, err
	}
	rec.AttemptID = attemptID.String
	rec.Source = source.String
	rec.RemoteAddress = remoteAddress.String
	rec.LocalPath = localPath.String
	rec.ContentType = contentType.String
	rec.Origin = origin.String
	rec.ForMobile = forMobile != 0
	rec.LocalOnly = localOnly != 0
	rec.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if uploadedRaw.Valid {
		if uploaded, err := parseTimeString(uploadedRaw.String); err == nil {
			rec.UploadedAt = &uploaded
		}
	}
	return &rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
