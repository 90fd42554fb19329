package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

// ContactRepositoryInterface is the audience resolver contract the planner
// consumes. The filter DSL itself stays opaque to the pipeline; this
// implementation understands a flat attribute match, which is all the seeded
// data needs.
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	Resolve(tenantID int, filter json.RawMessage) ([]model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, tenant_id, phone, name, attributes, opted_out, deactivated, last_activity_at`

func scanContact(row rowScanner) (*model.Contact, error) {
	var c model.Contact
	var attrs []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &attrs, &c.OptedOut, &c.Deactivated, &c.LastActivityAt)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	c, err := scanContact(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// audienceFilter is the minimal filter shape this resolver evaluates:
// {"attributes": {"city": "Nairobi"}} matches contacts whose attribute set
// contains every listed pair. An empty or missing filter matches everyone.
type audienceFilter struct {
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Resolve returns the reachable audience for a filter. Opted-out and
// deactivated contacts are never part of a resolved audience.
func (r *ContactRepository) Resolve(tenantID int, filter json.RawMessage) ([]model.Contact, error) {
	var f audienceFilter
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &f); err != nil {
			return nil, err
		}
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
              WHERE tenant_id = $1 AND opted_out = FALSE AND deactivated = FALSE`
	args := []interface{}{tenantID}

	if len(f.Attributes) > 0 {
		match, err := json.Marshal(f.Attributes)
		if err != nil {
			return nil, err
		}
		query += ` AND attributes @> $2`
		args = append(args, match)
	}

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
