package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatnationwork/broadcast-backend/internal/config"
	"github.com/chatnationwork/broadcast-backend/internal/db"
	"github.com/chatnationwork/broadcast-backend/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id SERIAL PRIMARY KEY,
    tenant_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    channel_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    template TEXT NOT NULL,
    audience_filter JSONB,
    trigger_name TEXT NOT NULL DEFAULT '',
    trigger_key TEXT NOT NULL DEFAULT '',
    trigger_value TEXT NOT NULL DEFAULT '',
    recipient_count INTEGER NOT NULL DEFAULT 0,
    scheduled_at TIMESTAMPTZ,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    estimated_completion_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS contacts (
    id SERIAL PRIMARY KEY,
    tenant_id INTEGER NOT NULL,
    phone TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    attributes JSONB,
    opted_out BOOLEAN NOT NULL DEFAULT FALSE,
    deactivated BOOLEAN NOT NULL DEFAULT FALSE,
    last_activity_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS delivery_records (
    id SERIAL PRIMARY KEY,
    campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
    contact_id INTEGER NOT NULL,
    phone TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    business_initiated BOOLEAN NOT NULL DEFAULT FALSE,
    provider_message_id TEXT NOT NULL DEFAULT '',
    last_error_code TEXT NOT NULL DEFAULT '',
    last_error_message TEXT NOT NULL DEFAULT '',
    sent_at TIMESTAMPTZ,
    delivered_at TIMESTAMPTZ,
    read_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (campaign_id, contact_id)
);

CREATE INDEX IF NOT EXISTS idx_delivery_records_campaign_status
    ON delivery_records (campaign_id, status);
CREATE INDEX IF NOT EXISTS idx_campaigns_due
    ON campaigns (status, scheduled_at);
`

var cities = []string{"Amsterdam", "Rotterdam", "Utrecht", "Eindhoven", "Groningen"}
var names = []string{"Anna", "Bram", "Carla", "Daan", "Eva", "Finn", "Gitta", "Hugo"}

func main() {
	logger := logging.FromEnv()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on OS environment variables")
	}
	cfg := config.Load()

	conn, err := db.Connect(cfg.DatabaseURL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	if _, err := conn.Exec(schema); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}
	logger.Info().Msg("schema applied")

	// Contacts with a spread of last-activity times: roughly a third still
	// inside the 24h conversation window, a third outside, a third silent.
	const tenantID = 1
	const contactCount = 200
	now := time.Now()

	for i := 0; i < contactCount; i++ {
		var lastActivity *time.Time
		switch i % 3 {
		case 0:
			t := now.Add(-time.Duration(rand.Intn(23)) * time.Hour)
			lastActivity = &t
		case 1:
			t := now.Add(-time.Duration(25+rand.Intn(200)) * time.Hour)
			lastActivity = &t
		}

		attrs, _ := json.Marshal(map[string]string{
			"city": cities[rand.Intn(len(cities))],
		})

		_, err := conn.Exec(`
            INSERT INTO contacts (tenant_id, phone, name, attributes, opted_out, last_activity_at)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			tenantID,
			fmt.Sprintf("+3161%07d", i),
			names[rand.Intn(len(names))],
			attrs,
			i%25 == 0, // a few opted out
			lastActivity,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to seed contact")
		}
	}
	logger.Info().Int("contacts", contactCount).Msg("contacts seeded")

	filter, _ := json.Marshal(map[string]any{"attributes": map[string]string{"city": "Amsterdam"}})
	_, err = conn.Exec(`
        INSERT INTO campaigns (tenant_id, name, channel_id, status, template, audience_filter, trigger_name)
        VALUES
            ($1, 'Welcome back', 'chan-1', 'draft', 'Hi {{name|there}}, we have news for {{city}}!', $2, ''),
            ($1, 'Order shipped', 'chan-1', 'draft', 'Hi {{name|there}}, order {{order_id}} is on its way.', NULL, 'order.shipped')`,
		tenantID, filter,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to seed campaigns")
	}

	logger.Info().Msg("database seeding completed")
}
