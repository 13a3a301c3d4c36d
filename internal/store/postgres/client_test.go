package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/idx?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "idx"}))
	assert.Equal(t, "postgres://explicit",
		DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_events.sql", "002_markets.sql", "003_trades.sql"}, names)
}

func TestCreatedBetween_Pagination(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	query, args := createdBetween("SELECT id FROM trades WHERE TRUE", nil, from, to,
		domain.ListOpts{Limit: 500, Offset: 1000})

	assert.Equal(t,
		"SELECT id FROM trades WHERE TRUE AND created_at >= $1 AND created_at < $2 ORDER BY id LIMIT $3 OFFSET $4",
		query)
	assert.Equal(t, []any{from, to, 500, 1000}, args)
}
