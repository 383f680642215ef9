package repository

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/models"
)

var pngStub = []byte("\x89PNG\r\n\x1a\nstub-image")

func TestInstanceRepository_CreateAndGet(t *testing.T) {
	repo := NewInstanceRepository(setupTestDB(t))
	ctx := context.Background()

	inst := &models.Instance{Name: "loja", QRCode: pngStub}
	if err := repo.Create(ctx, inst); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByName(ctx, "loja")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByName() returned nil")
	}
	if got.Status != models.InstancePending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if !bytes.Equal(got.QRCode, pngStub) {
		t.Errorf("QRCode round trip mismatch: %q", got.QRCode)
	}

	if err := repo.Create(ctx, &models.Instance{Name: "loja"}); err == nil {
		t.Error("Create() expected error for duplicate name")
	}

	missing, err := repo.GetByName(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByName(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestInstanceRepository_Updates(t *testing.T) {
	repo := NewInstanceRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &models.Instance{Name: "loja"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, _ := repo.GetByName(ctx, "loja")

	time.Sleep(5 * time.Millisecond)
	if err := repo.UpdateStatus(ctx, "loja", models.InstanceConnected); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateQRCode(ctx, "loja", pngStub); err != nil {
		t.Fatalf("UpdateQRCode() error = %v", err)
	}

	after, _ := repo.GetByName(ctx, "loja")
	if after.Status != models.InstanceConnected {
		t.Errorf("Status = %v, want connected", after.Status)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt not refreshed: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
	if !bytes.Equal(after.QRCode, pngStub) {
		t.Error("QRCode not updated")
	}

	if err := repo.UpdateStatus(ctx, "ghost", models.InstancePending); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("UpdateStatus(ghost) error = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateQRCode(ctx, "ghost", nil); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("UpdateQRCode(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestInstanceRepository_ListOrder(t *testing.T) {
	repo := NewInstanceRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, &models.Instance{Name: name}); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(2 * time.Millisecond)
	if err := repo.UpdateStatus(ctx, "a", models.InstanceConnected); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() returned %d, want 3", len(list))
	}
	if list[0].Name != "a" || list[1].Name != "c" || list[2].Name != "b" {
		t.Errorf("List() order = %s, %s, %s; want a, c, b", list[0].Name, list[1].Name, list[2].Name)
	}
}
