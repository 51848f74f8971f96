package repository

import (
	"context"
	"testing"
	"time"

	"device-control-relay/internal/domain"
)

func TestStoredAfter(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC)

	tests := []struct {
		name   string
		stored interface{}
		want   bool
	}{
		{"later", at.Add(time.Second).Format(time.RFC3339Nano), true},
		{"earlier", at.Add(-time.Second).Format(time.RFC3339Nano), false},
		{"same instant", at.Format(time.RFC3339Nano), false},
		{"other zone", at.Add(time.Millisecond).In(time.FixedZone("UTC-3", -3*3600)).Format(time.RFC3339Nano), true},
		{"missing", nil, false},
		{"empty", "", false},
		{"garbage", "yesterday", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storedAfter(tt.stored, at); got != tt.want {
				t.Errorf("storedAfter(%v) = %v, want %v", tt.stored, got, tt.want)
			}
		})
	}
}

func TestMemoryDeviceRepository_UpdateStatusKeepsLaterStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeviceRepository(&domain.Device{ID: "D1", OrganizationID: "org-1"})
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.UpdateStatus(ctx, "D1", domain.DeviceStatusLocked, at.Add(time.Second), "uma"); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateStatus(ctx, "D1", domain.DeviceStatusOnline, at, ""); err != nil {
		t.Fatalf("UpdateStatus() older write error = %v", err)
	}

	d, _ := repo.FindByID(ctx, "D1")
	if d.Status != domain.DeviceStatusLocked || !d.LastSeen.Equal(at.Add(time.Second)) {
		t.Errorf("device = %s at %s, want the later locked status", d.Status, d.LastSeen)
	}
}
