package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/database"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.OpenAndMigrate(context.Background(), &database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db)
}

func alertEvent(camera string, trackID, frame int64) abandon.Event {
	owner := int64(3)
	return abandon.Event{
		Type:        abandon.EventAlert,
		CameraID:    camera,
		TrackID:     trackID,
		FrameNumber: frame,
		Label:       "suitcase",
		OwnerID:     &owner,
		IdleFrames:  30,
		Position:    detection.Point{X: 110, Y: 220},
		BoundingBox: detection.BoundingBox{X1: 100, Y1: 200, X2: 120, Y2: 240},
	}
}

func TestCreateAndGet(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	alert := AlertFromEvent(alertEvent("lobby", 5, 30))
	alert.SnapshotPath = "alert_lobby_frame_30.jpg"
	if err := svc.Create(ctx, alert); err != nil {
		t.Fatalf("Failed to create alert: %v", err)
	}
	if alert.ID == "" {
		t.Fatal("Expected generated ID")
	}

	got, err := svc.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Failed to get alert: %v", err)
	}
	if got.CameraID != "lobby" || got.TrackID != 5 || got.FrameNumber != 30 {
		t.Errorf("Unexpected alert: %+v", got)
	}
	if got.OwnerID == nil || *got.OwnerID != 3 {
		t.Errorf("Expected owner 3, got %v", got.OwnerID)
	}
	if got.Position.X != 110 || got.BoundingBox.Y2 != 240 {
		t.Errorf("Geometry not round-tripped: %+v %+v", got.Position, got.BoundingBox)
	}
	if got.Status != StatusActive {
		t.Errorf("Expected status active, got %s", got.Status)
	}
	if got.SnapshotPath != "alert_lobby_frame_30.jpg" {
		t.Errorf("Expected snapshot path, got '%s'", got.SnapshotPath)
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing alert, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	alert := AlertFromEvent(alertEvent("lobby", 5, 30))
	if err := svc.Create(ctx, alert); err != nil {
		t.Fatalf("Failed to create alert: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, "lobby", 5, 42, abandon.ReasonOwnerReturned)
	if err != nil {
		t.Fatalf("Failed to cancel alert: %v", err)
	}
	if cancelled.ID != alert.ID {
		t.Errorf("Expected cancelled alert %s, got %s", alert.ID, cancelled.ID)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("Expected cancelled status, got %s", cancelled.Status)
	}
	if cancelled.CancelFrame == nil || *cancelled.CancelFrame != 42 {
		t.Errorf("Expected cancel frame 42, got %v", cancelled.CancelFrame)
	}
	if cancelled.CancelReason != abandon.ReasonOwnerReturned {
		t.Errorf("Expected reason %s, got %s", abandon.ReasonOwnerReturned, cancelled.CancelReason)
	}

	// Nothing left open for that track
	if _, err := svc.Cancel(ctx, "lobby", 5, 43, abandon.ReasonOwnerReturned); err == nil {
		t.Error("Expected error cancelling a closed alert")
	}
	// Track ids are scoped per camera
	if _, err := svc.Cancel(ctx, "gate", 5, 43, abandon.ReasonOwnerReturned); err == nil {
		t.Error("Expected error for a different camera")
	}
}

func TestList(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, cam := range []string{"lobby", "lobby", "gate"} {
		a := AlertFromEvent(alertEvent(cam, int64(i+1), 30))
		a.RaisedAt = base.Add(time.Duration(i) * time.Minute)
		if err := svc.Create(ctx, a); err != nil {
			t.Fatalf("Failed to create alert: %v", err)
		}
	}
	if _, err := svc.Cancel(ctx, "lobby", 1, 50, abandon.ReasonOwnerReturned); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	all, total, err := svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("Expected 3 alerts, got %d (total %d)", len(all), total)
	}
	if all[0].CameraID != "gate" {
		t.Errorf("Expected newest first, got %s", all[0].CameraID)
	}

	lobby, total, _ := svc.List(ctx, ListOptions{CameraID: "lobby"})
	if total != 2 || len(lobby) != 2 {
		t.Errorf("Expected 2 lobby alerts, got %d", total)
	}

	active := true
	open, total, _ := svc.List(ctx, ListOptions{Active: &active})
	if total != 2 || len(open) != 2 {
		t.Errorf("Expected 2 active alerts, got %d", total)
	}

	inactive := false
	closed, _, _ := svc.List(ctx, ListOptions{Active: &inactive})
	if len(closed) != 1 || closed[0].TrackID != 1 {
		t.Errorf("Expected only track 1 closed, got %+v", closed)
	}

	page, total, _ := svc.List(ctx, ListOptions{Limit: 1, Offset: 1})
	if total != 3 || len(page) != 1 {
		t.Errorf("Expected page of 1 with total 3, got %d with total %d", len(page), total)
	}
}

func TestAcknowledge(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	alert := AlertFromEvent(alertEvent("lobby", 5, 30))
	if err := svc.Create(ctx, alert); err != nil {
		t.Fatalf("Failed to create alert: %v", err)
	}

	if err := svc.Acknowledge(ctx, alert.ID); err != nil {
		t.Fatalf("Failed to acknowledge: %v", err)
	}
	// Acknowledging twice is fine
	if err := svc.Acknowledge(ctx, alert.ID); err != nil {
		t.Errorf("Second acknowledge failed: %v", err)
	}

	got, _ := svc.Get(ctx, alert.ID)
	if !got.Acknowledged || got.AcknowledgedAt == nil {
		t.Error("Expected alert to be acknowledged")
	}

	if err := svc.Acknowledge(ctx, "missing"); err == nil {
		t.Error("Expected error for missing alert")
	}
}

func TestGetStats(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	for i, cam := range []string{"lobby", "lobby", "gate"} {
		if err := svc.Create(ctx, AlertFromEvent(alertEvent(cam, int64(i+1), 30))); err != nil {
			t.Fatalf("Failed to create alert: %v", err)
		}
	}
	if _, err := svc.Cancel(ctx, "gate", 3, 40, abandon.ReasonOwnerReturned); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	stats, err := svc.GetStats(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 2 || stats.Today != 3 || stats.Unacknowledged != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ByCamera["lobby"] != 2 || stats.ByCamera["gate"] != 1 {
		t.Errorf("Unexpected per-camera counts: %v", stats.ByCamera)
	}

	gate, err := svc.GetStats(ctx, "gate")
	if err != nil {
		t.Fatalf("Failed to get camera stats: %v", err)
	}
	if gate.Total != 1 || gate.Active != 0 {
		t.Errorf("Unexpected gate stats: %+v", gate)
	}
}
