package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
)

func TestToSessionModelNormalizesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*3600)
	created := time.Date(2026, 5, 1, 15, 0, 0, 0, loc)
	row := toSessionModel(domain.SessionRecord{
		SessionID:    "session_alice",
		Phone:        "+15550001",
		IsAuthorized: true,
		Status:       domain.StatusAuthorized,
		CreatedAt:    created,
		LastUsed:     created.Add(time.Minute),
	})

	assert.Equal(t, "session_alice", row.SessionID)
	assert.Equal(t, "authorized", row.Status)
	assert.Equal(t, time.UTC, row.CreatedAt.Location())
	assert.True(t, created.Equal(row.CreatedAt))
	assert.Nil(t, row.ClosedAt)
}

func TestToDomainLoginAttempt(t *testing.T) {
	t.Parallel()

	at := time.Now().UTC()
	attempt := toDomainLoginAttempt(loginAttemptModel{
		ID: 7, SessionID: "session_a", Operation: "submit_code", Status: "error", Message: "Error submitting code: x", AttemptAt: at,
	})
	assert.Equal(t, int64(7), attempt.ID)
	assert.Equal(t, domain.StatusError, attempt.Status)
	assert.Equal(t, "submit_code", attempt.Operation)
	assert.Equal(t, at, attempt.AttemptAt)
}

func TestToOutboxRecord(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	rec := toOutboxRecord(telegramOutboxModel{
		OutboxID:     id,
		EventType:    "telegram.session.created",
		PartitionKey: "session_a",
		Payload:      `{"session_id":"session_a"}`,
		RetryCount:   2,
	})
	assert.Equal(t, id, rec.OutboxID)
	assert.Equal(t, "session_a", rec.PartitionKey)
	assert.JSONEq(t, `{"session_id":"session_a"}`, string(rec.Payload))
	assert.Equal(t, 2, rec.RetryCount)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)

	raw, err := migrationFS.ReadFile("migrations/0001_telegram_sessions.sql")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "telegram_sessions"))
	assert.True(t, strings.Contains(string(raw), "telegram_login_attempts"))
}

func TestMigrationNamesAreSortedSQLFiles(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/0002_b.sql":   {Data: []byte("select 2;")},
		"migrations/0001_a.sql":   {Data: []byte("select 1;")},
		"migrations/README.md":    {Data: []byte("notes")},
		"migrations/old/0000.sql": {Data: []byte("select 0;")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, names)

	embedded, err := migrationNames(migrationFS)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_telegram_sessions.sql", "0002_telegram_outbox.sql"}, embedded)
}
