package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/chatnationwork/broadcast-backend/internal/errors"
	"github.com/chatnationwork/broadcast-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	Update(c *model.Campaign) error
	UpdateStatus(campaignID int, status model.CampaignStatus) error
	MarkRunning(campaignID, recipientCount int, estimatedCompletionAt time.Time) (bool, error)
	MarkCompleted(campaignID int) (bool, error)
	MarkResumed(campaignID int) (bool, error)
	CompleteEmpty(campaignID int) error
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
	ListDueScheduled(now time.Time) ([]*model.Campaign, error)
	ListRunningByTrigger(tenantID int, triggerName string) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, channel_id, status, template, audience_filter,
	trigger_name, trigger_key, trigger_value, recipient_count,
	scheduled_at, started_at, completed_at, estimated_completion_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var filter []byte
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.ChannelID, &c.Status, &c.Template, &filter,
		&c.TriggerName, &c.TriggerKey, &c.TriggerValue, &c.RecipientCount,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.EstimatedCompletionAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.AudienceFilter = filter
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns
            (tenant_id, name, channel_id, status, template, audience_filter,
             trigger_name, trigger_key, trigger_value, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		c.TenantID, c.Name, c.ChannelID, c.Status, c.Template, []byte(c.AudienceFilter),
		c.TriggerName, c.TriggerKey, c.TriggerValue, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, template=$2, audience_filter=$3, trigger_name=$4, trigger_key=$5,
            trigger_value=$6, scheduled_at=$7, updated_at=NOW()
        WHERE id=$8
    `
	_, err := r.DB.Exec(query,
		c.Name, c.Template, []byte(c.AudienceFilter),
		c.TriggerName, c.TriggerKey, c.TriggerValue, c.ScheduledAt, c.ID,
	)
	return err
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

// MarkRunning transitions draft/scheduled -> running and stamps the launch
// snapshot. The status guard makes a concurrent second launch lose cleanly:
// it reports false and the caller treats the launch as a no-op.
func (r *CampaignRepository) MarkRunning(campaignID, recipientCount int, estimatedCompletionAt time.Time) (bool, error) {
	query := `
        UPDATE campaigns
        SET status='running', started_at=NOW(), recipient_count=$1,
            estimated_completion_at=$2, updated_at=NOW()
        WHERE id=$3 AND status IN ('draft','scheduled')
    `
	res, err := r.DB.Exec(query, recipientCount, estimatedCompletionAt, campaignID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCompleted flips running -> completed. The guard makes the flip
// idempotent when the last two jobs race on completion detection.
func (r *CampaignRepository) MarkCompleted(campaignID int) (bool, error) {
	query := `
        UPDATE campaigns
        SET status='completed', completed_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND status='running'
    `
	res, err := r.DB.Exec(query, campaignID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkResumed flips paused -> running for a campaign that had already
// started; the planner re-enqueues whatever is still unfinished.
func (r *CampaignRepository) MarkResumed(campaignID int) (bool, error) {
	query := `
        UPDATE campaigns
        SET status='running', updated_at=NOW()
        WHERE id=$1 AND status='paused' AND started_at IS NOT NULL
    `
	res, err := r.DB.Exec(query, campaignID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteEmpty closes out a launch that resolved to an empty audience.
func (r *CampaignRepository) CompleteEmpty(campaignID int) error {
	query := `
        UPDATE campaigns
        SET status='completed', recipient_count=0, completed_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND status IN ('draft','scheduled')
    `
	_, err := r.DB.Exec(query, campaignID)
	return err
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListDueScheduled returns scheduled campaigns whose launch time has passed.
// The scheduler polls this.
func (r *CampaignRepository) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status='scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
        ORDER BY scheduled_at`
	return r.queryCampaigns(query, now)
}

// ListRunningByTrigger matches running campaigns subscribed to a business
// event, resolved at fire time.
func (r *CampaignRepository) ListRunningByTrigger(tenantID int, triggerName string) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status='running' AND tenant_id=$1 AND trigger_name=$2
        ORDER BY id`
	return r.queryCampaigns(query, tenantID, triggerName)
}

func (r *CampaignRepository) queryCampaigns(query string, args ...interface{}) ([]*model.Campaign, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
