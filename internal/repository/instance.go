package repository

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/foxzi/wacampaign/internal/db"
	"github.com/foxzi/wacampaign/internal/models"
)

type InstanceRepository struct {
	db *db.DB
}

func NewInstanceRepository(db *db.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create inserts an instance. The QR image is stored base64 encoded.
func (r *InstanceRepository) Create(ctx context.Context, inst *models.Instance) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	if inst.Status == "" {
		inst.Status = models.InstancePending
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO instances (name, status, qr_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`),
		inst.Name, string(inst.Status), encodeQR(inst.QRCode), inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByName returns an instance by name, nil when absent
func (r *InstanceRepository) GetByName(ctx context.Context, name string) (*models.Instance, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT name, status, qr_code, created_at, updated_at FROM instances WHERE name = ?`), name)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// List returns instances, most recently updated first
func (r *InstanceRepository) List(ctx context.Context) ([]models.Instance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, status, qr_code, created_at, updated_at FROM instances
		ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	instances := []models.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// UpdateStatus sets the connection status and touches updated_at
func (r *InstanceRepository) UpdateStatus(ctx context.Context, name string, status models.InstanceStatus) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE instances SET status = ?, updated_at = ? WHERE name = ?`),
		string(status), time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	return requireRow(res, "instance "+name)
}

// UpdateQRCode replaces the stored pairing image and touches updated_at
func (r *InstanceRepository) UpdateQRCode(ctx context.Context, name string, qr []byte) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE instances SET qr_code = ?, updated_at = ? WHERE name = ?`),
		encodeQR(qr), time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance qr code: %w", err)
	}
	return requireRow(res, "instance "+name)
}

func scanInstance(s rowScanner) (*models.Instance, error) {
	var (
		inst   models.Instance
		status string
		qr     string
	)
	if err := s.Scan(&inst.Name, &status, &qr, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	inst.Status = models.InstanceStatus(status)

	if qr != "" {
		data, err := base64.StdEncoding.DecodeString(qr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode qr code for %s: %w", inst.Name, err)
		}
		inst.QRCode = data
	}
	return &inst, nil
}

func encodeQR(qr []byte) string {
	if len(qr) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(qr)
}
