package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Spatial-NVR/bagwatch/internal/database"
)

// ErrNotFound is returned when no alert matches
var ErrNotFound = errors.New("alert not found")

// Service manages the alert history
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// NewService creates a new alert history service
func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: slog.Default().With("component", "alert_history"),
	}
}

const alertColumns = `id, camera_id, track_id, label, owner_id, frame_number, idle_frames,
	position_x, position_y, bbox_x1, bbox_y1, bbox_x2, bbox_y2, snapshot_path,
	raised_at, cancelled_at, cancel_frame, cancel_reason, acknowledged, acknowledged_at, created_at`

// Create stores a newly raised alert
func (s *Service) Create(ctx context.Context, alert *Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	now := time.Now()
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = now
	}
	alert.CreatedAt = now
	alert.Status = StatusActive

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, camera_id, track_id, label, owner_id, frame_number, idle_frames,
			position_x, position_y, bbox_x1, bbox_y1, bbox_x2, bbox_y2, snapshot_path,
			raised_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, alert.CameraID, alert.TrackID, alert.Label, alert.OwnerID, alert.FrameNumber, alert.IdleFrames,
		alert.Position.X, alert.Position.Y,
		alert.BoundingBox.X1, alert.BoundingBox.Y1, alert.BoundingBox.X2, alert.BoundingBox.Y2,
		alert.SnapshotPath, alert.RaisedAt.Unix(), alert.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	s.logger.Info("Alert stored", "id", alert.ID, "camera", alert.CameraID, "track_id", alert.TrackID)
	return nil
}

// Cancel closes the open alert of a track and returns it
func (s *Service) Cancel(ctx context.Context, cameraID string, trackID, frame int64, reason string) (*Alert, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM alerts
		WHERE camera_id = ? AND track_id = ? AND cancelled_at IS NULL
		ORDER BY raised_at DESC, created_at DESC LIMIT 1
	`, cameraID, trackID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no open alert for camera %s track %d", ErrNotFound, cameraID, trackID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE alerts SET cancelled_at = ?, cancel_frame = ?, cancel_reason = ? WHERE id = ?",
		time.Now().Unix(), frame, reason, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel alert: %w", err)
	}

	s.logger.Info("Alert closed", "id", id, "camera", cameraID, "track_id", trackID, "reason", reason)
	return s.Get(ctx, id)
}

// Get retrieves an alert by ID
func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// List retrieves alerts with filters, newest first, plus the unpaginated total
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Alert, int, error) {
	var where []string
	var args []any

	if opts.CameraID != "" {
		where = append(where, "camera_id = ?")
		args = append(args, opts.CameraID)
	}
	if opts.Active != nil {
		if *opts.Active {
			where = append(where, "cancelled_at IS NULL")
		} else {
			where = append(where, "cancelled_at IS NOT NULL")
		}
	}
	if !opts.StartTime.IsZero() {
		where = append(where, "raised_at >= ?")
		args = append(args, opts.StartTime.Unix())
	}
	if !opts.EndTime.IsZero() {
		where = append(where, "raised_at <= ?")
		args = append(args, opts.EndTime.Unix())
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := 50
	if opts.Limit > 0 && opts.Limit <= 1000 {
		limit = opts.Limit
	}
	query := "SELECT " + alertColumns + " FROM alerts" + clause + " ORDER BY raised_at DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts := []*Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, total, rows.Err()
}

// Acknowledge marks an alert as seen by an operator
func (s *Service) Acknowledge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET acknowledged = 1, acknowledged_at = ? WHERE id = ? AND acknowledged = 0",
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already acknowledged
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns alert statistics, optionally for one camera
func (s *Service) GetStats(ctx context.Context, cameraID string) (*Stats, error) {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	clause := ""
	var args []any
	if cameraID != "" {
		clause = " WHERE camera_id = ?"
		args = append(args, cameraID)
	}

	stats := &Stats{ByCamera: make(map[string]int)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN cancelled_at IS NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN raised_at >= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN acknowledged = 0 THEN 1 ELSE 0 END), 0)
		FROM alerts`+clause, append([]any{todayStart.Unix()}, args...)...,
	).Scan(&stats.Total, &stats.Active, &stats.Today, &stats.Unacknowledged)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT camera_id, COUNT(*) FROM alerts"+clause+" GROUP BY camera_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts per camera: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var camera string
		var n int
		if err := rows.Scan(&camera, &n); err != nil {
			return nil, err
		}
		stats.ByCamera[camera] = n
	}

	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	alert := &Alert{}
	var ownerID, cancelledAt, cancelFrame, acknowledgedAt sql.NullInt64
	var cancelReason sql.NullString
	var raisedAt, createdAt int64
	var acknowledged int

	err := row.Scan(
		&alert.ID, &alert.CameraID, &alert.TrackID, &alert.Label, &ownerID, &alert.FrameNumber, &alert.IdleFrames,
		&alert.Position.X, &alert.Position.Y,
		&alert.BoundingBox.X1, &alert.BoundingBox.Y1, &alert.BoundingBox.X2, &alert.BoundingBox.Y2,
		&alert.SnapshotPath, &raisedAt, &cancelledAt, &cancelFrame, &cancelReason,
		&acknowledged, &acknowledgedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	alert.RaisedAt = time.Unix(raisedAt, 0)
	alert.CreatedAt = time.Unix(createdAt, 0)
	alert.Acknowledged = acknowledged == 1
	alert.Status = StatusActive

	if ownerID.Valid {
		v := ownerID.Int64
		alert.OwnerID = &v
	}
	if cancelledAt.Valid {
		t := time.Unix(cancelledAt.Int64, 0)
		alert.CancelledAt = &t
		alert.Status = StatusCancelled
	}
	if cancelFrame.Valid {
		v := cancelFrame.Int64
		alert.CancelFrame = &v
	}
	if cancelReason.Valid {
		alert.CancelReason = cancelReason.String
	}
	if acknowledgedAt.Valid {
		t := time.Unix(acknowledgedAt.Int64, 0)
		alert.AcknowledgedAt = &t
	}

	return alert, nil
}
