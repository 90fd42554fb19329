package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

type DeliveryRepositoryInterface interface {
	BulkCreate(records []model.DeliveryRecord) ([]model.DeliveryRecord, error)
	CreateOrGet(rec model.DeliveryRecord) (*model.DeliveryRecord, error)
	GetByID(id int) (*model.DeliveryRecord, error)
	MarkQueued(ids []int) error
	IncrementAttempts(id int) (int, error)
	DecrementAttempts(id int) error
	MarkSent(id int, providerMessageID string) error
	MarkFailed(id int, code, message string) error
	SetLastError(id int, code, message string) error
	AdvanceStatus(id int, to model.DeliveryStatus) (bool, error)
	CountByStatus(campaignID int) (map[model.DeliveryStatus]int, error)
	CountRemaining(campaignID int) (int, error)
	ListUnfinished(campaignID int) ([]model.DeliveryRecord, error)
}

type DeliveryRepository struct {
	DB *sql.DB
}

const deliveryColumns = `id, campaign_id, contact_id, phone, status, attempts, business_initiated,
	provider_message_id, last_error_code, last_error_message,
	sent_at, delivered_at, read_at, created_at, updated_at`

func scanDelivery(row rowScanner) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Phone, &rec.Status,
		&rec.Attempts, &rec.BusinessInitiated,
		&rec.ProviderMessageID, &rec.LastErrorCode, &rec.LastErrorMessage,
		&rec.SentAt, &rec.DeliveredAt, &rec.ReadAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// BulkCreate inserts one batch of records. The unique (campaign_id,
// contact_id) index plus DO NOTHING makes planning idempotent: rows that
// already exist are skipped and not returned, so a relaunch never duplicates
// a recipient. Callers keep batches bounded.
func (r *DeliveryRepository) BulkCreate(records []model.DeliveryRecord) ([]model.DeliveryRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*4)
	for i, rec := range records {
		base := i * 4
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, 'pending', $%d, NOW(), NOW())",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, rec.CampaignID, rec.ContactID, rec.Phone, rec.BusinessInitiated)
	}

	query := `
        INSERT INTO delivery_records
            (campaign_id, contact_id, phone, status, business_initiated, created_at, updated_at)
        VALUES ` + strings.Join(placeholders, ", ") + `
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
        RETURNING ` + deliveryColumns

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	created := []model.DeliveryRecord{}
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		created = append(created, *rec)
	}
	return created, rows.Err()
}

// CreateOrGet is the single-recipient path (triggers). It returns the
// existing record untouched when one is already there.
func (r *DeliveryRepository) CreateOrGet(rec model.DeliveryRecord) (*model.DeliveryRecord, error) {
	query := `
        INSERT INTO delivery_records
            (campaign_id, contact_id, phone, status, business_initiated, created_at, updated_at)
        VALUES ($1, $2, $3, 'pending', $4, NOW(), NOW())
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
        RETURNING ` + deliveryColumns

	created, err := scanDelivery(r.DB.QueryRow(query, rec.CampaignID, rec.ContactID, rec.Phone, rec.BusinessInitiated))
	if err == nil {
		return created, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	query = `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE campaign_id=$1 AND contact_id=$2`
	return scanDelivery(r.DB.QueryRow(query, rec.CampaignID, rec.ContactID))
}

func (r *DeliveryRepository) GetByID(id int) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE id=$1`
	rec, err := scanDelivery(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// MarkQueued moves freshly enqueued records out of pending.
func (r *DeliveryRepository) MarkQueued(ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE delivery_records SET status='queued', updated_at=NOW()
              WHERE id = ANY($1) AND status='pending'`
	_, err := r.DB.Exec(query, pq.Array(ids))
	return err
}

func (r *DeliveryRepository) IncrementAttempts(id int) (int, error) {
	var attempts int
	query := `UPDATE delivery_records SET attempts=attempts+1, updated_at=NOW()
              WHERE id=$1 RETURNING attempts`
	err := r.DB.QueryRow(query, id).Scan(&attempts)
	return attempts, err
}

// DecrementAttempts gives an attempt back. Used when the failure was a
// rate-limit pacing signal rather than a problem with the recipient, so it
// does not count against the retry budget.
func (r *DeliveryRepository) DecrementAttempts(id int) error {
	query := `UPDATE delivery_records SET attempts=GREATEST(attempts-1, 0), updated_at=NOW()
              WHERE id=$1`
	_, err := r.DB.Exec(query, id)
	return err
}

func (r *DeliveryRepository) MarkSent(id int, providerMessageID string) error {
	query := `UPDATE delivery_records
              SET status='sent', provider_message_id=$1, sent_at=NOW(),
                  last_error_code='', last_error_message='', updated_at=NOW()
              WHERE id=$2`
	_, err := r.DB.Exec(query, providerMessageID, id)
	return err
}

func (r *DeliveryRepository) MarkFailed(id int, code, message string) error {
	query := `UPDATE delivery_records
              SET status='failed', last_error_code=$1, last_error_message=$2, updated_at=NOW()
              WHERE id=$3`
	_, err := r.DB.Exec(query, code, message, id)
	return err
}

// SetLastError records a transient failure without leaving the non-terminal
// status, so the queue's redelivery can try again.
func (r *DeliveryRepository) SetLastError(id int, code, message string) error {
	query := `UPDATE delivery_records
              SET last_error_code=$1, last_error_message=$2, updated_at=NOW()
              WHERE id=$3`
	_, err := r.DB.Exec(query, code, message, id)
	return err
}

// forward-only predecessors for receipt-driven advances
var advanceFrom = map[model.DeliveryStatus][]string{
	model.DeliveryDelivered: {"sent"},
	model.DeliveryRead:      {"sent", "delivered"},
}

// AdvanceStatus applies a delivery receipt. Receipts may only move a record
// forward along sent -> delivered -> read; out-of-order or duplicate receipts
// report false and change nothing.
func (r *DeliveryRepository) AdvanceStatus(id int, to model.DeliveryStatus) (bool, error) {
	from, ok := advanceFrom[to]
	if !ok {
		return false, fmt.Errorf("status %q cannot be set from a receipt", to)
	}

	var stampCol string
	switch to {
	case model.DeliveryDelivered:
		stampCol = "delivered_at"
	case model.DeliveryRead:
		stampCol = "read_at"
	}

	query := fmt.Sprintf(`UPDATE delivery_records
        SET status=$1, %s=NOW(), updated_at=NOW()
        WHERE id=$2 AND status = ANY($3)`, stampCol)
	res, err := r.DB.Exec(query, to, id, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *DeliveryRepository) CountByStatus(campaignID int) (map[model.DeliveryStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM delivery_records WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.DeliveryStatus]int{
		model.DeliveryPending:   0,
		model.DeliveryQueued:    0,
		model.DeliverySent:      0,
		model.DeliveryDelivered: 0,
		model.DeliveryRead:      0,
		model.DeliveryFailed:    0,
	}
	for rows.Next() {
		var status model.DeliveryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CountRemaining is the completion-detection query: how many records have not
// reached a terminal state yet.
func (r *DeliveryRepository) CountRemaining(campaignID int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM delivery_records
              WHERE campaign_id=$1 AND status IN ('pending','queued')`
	err := r.DB.QueryRow(query, campaignID).Scan(&n)
	return n, err
}

// ListUnfinished returns the records a resume has to put back on the queue.
func (r *DeliveryRepository) ListUnfinished(campaignID int) ([]model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records
              WHERE campaign_id=$1 AND status IN ('pending','queued')
              ORDER BY id`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.DeliveryRecord{}
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
