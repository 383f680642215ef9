package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/db"
	"github.com/foxzi/wacampaign/internal/models"
)

type CampaignRepository struct {
	db *db.DB
}

func NewCampaignRepository(db *db.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, message, instance_name, send_type, image_url, phone_count, delay_seconds, status, created_at`

// Create inserts a campaign record. ID and CreatedAt are assigned when empty.
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = models.CampaignPending
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, c.Message, c.InstanceName, string(c.SendType), c.ImageURL,
		c.PhoneCount, c.DelaySeconds, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`), id)

	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns newest first. Every call re-queries the store.
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}

	if filter.SendType != "" {
		query += " AND send_type = ?"
		args = append(args, string(filter.SendType))
	}

	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, rows.Err()
}

// Stats aggregates the campaigns matching filter
func (r *CampaignRepository) Stats(ctx context.Context, filter models.CampaignListFilter) (*models.CampaignStats, error) {
	campaigns, err := r.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return models.ComputeCampaignStats(campaigns), nil
}

// UpdateStatus sets the status of a campaign
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE campaigns SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return requireRow(res, "campaign "+id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s rowScanner) (*models.Campaign, error) {
	var (
		c        models.Campaign
		sendType string
		status   string
	)
	err := s.Scan(&c.ID, &c.Name, &c.Message, &c.InstanceName, &sendType, &c.ImageURL,
		&c.PhoneCount, &c.DelaySeconds, &status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.SendType = models.SendType(sendType)
	c.Status = models.CampaignStatus(status)
	return &c, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return nil
}
