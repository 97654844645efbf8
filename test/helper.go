package test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"flagengine/entity"
	"flagengine/migrations"
	"flagengine/pkg/logger"
	"flagengine/repository"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// TestDB wraps a test database connection
type TestDB struct {
	DB *sqlx.DB
}

// SetupTestDB connects to the test database and runs migrations
func SetupTestDB(t *testing.T) *TestDB {
	host := getEnvOrDefault("TEST_DB_HOST", "localhost")
	port := getEnvOrDefault("TEST_DB_PORT", "5432")
	user := getEnvOrDefault("TEST_DB_USER", "flagengine")
	password := getEnvOrDefault("TEST_DB_PASSWORD", "flagengine")

	baseDBName := getEnvOrDefault("POSTGRES_DB", "flagengine")
	dbName := getEnvOrDefault("TEST_DB_NAME", baseDBName+"_test")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbName)

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err, "Failed to connect to test database")

	require.NoError(t, migrations.Run(db.DB), "Failed to run test migrations")

	return &TestDB{DB: db}
}

// Close closes the test database connection
func (tdb *TestDB) Close() {
	if tdb.DB != nil {
		tdb.DB.Close()
	}
}

// CleanTables removes all data from tables (for test isolation)
func (tdb *TestDB) CleanTables(t *testing.T) {
	_, err := tdb.DB.Exec("TRUNCATE TABLE flag_evaluations, flag_audits, flags RESTART IDENTITY CASCADE")
	require.NoError(t, err, "Failed to clean test tables")
}

// CreateTestFlag inserts a flag directly, bypassing the administration
// service, for fixture setup
func (tdb *TestDB) CreateTestFlag(t *testing.T, flag entity.FeatureFlag) *entity.FeatureFlag {
	flagRepo := repository.NewFlagRepository(tdb.DB)

	err := flagRepo.Transact(context.Background(), func(tx *sqlx.Tx) error {
		id, err := flagRepo.CreateFlag(context.Background(), tx, &flag)
		if err != nil {
			return err
		}
		flag.ID = id
		return nil
	})
	require.NoError(t, err, "Failed to create test flag")

	return &flag
}

// GetTestLogger creates a test logger
func GetTestLogger() *logger.Logger {
	log, err := logger.New("debug", "development")
	if err != nil {
		panic(fmt.Sprintf("Failed to create test logger: %v", err))
	}
	return log
}

// AssertAuditExists asserts that an audit row exists for a flag
func (tdb *TestDB) AssertAuditExists(t *testing.T, flagKey string, action entity.AuditAction, actorID string) {
	auditRepo := repository.NewAuditRepository(tdb.DB)
	audits, err := auditRepo.ListAuditsByFlagKey(context.Background(), flagKey)
	require.NoError(t, err, "Failed to get audit rows")

	found := false
	for _, audit := range audits {
		if audit.Action == action && audit.ActorID == actorID {
			found = true
			break
		}
	}
	require.True(t, found, "Expected audit row not found: action=%s, actor=%s", action, actorID)
}

// CountAudits returns the number of audit rows for a flag
func (tdb *TestDB) CountAudits(t *testing.T, flagKey string) int {
	var count int
	err := tdb.DB.Get(&count, "SELECT COUNT(*) FROM flag_audits WHERE flag_key = $1", flagKey)
	require.NoError(t, err, "Failed to count audit rows")
	return count
}

// CountEvaluations returns the number of evaluation log rows for a flag
func (tdb *TestDB) CountEvaluations(t *testing.T, flagKey string) int {
	var count int
	err := tdb.DB.Get(&count, "SELECT COUNT(*) FROM flag_evaluations WHERE flag_key = $1", flagKey)
	require.NoError(t, err, "Failed to count evaluation rows")
	return count
}

// LatestEvaluation returns the most recent evaluation log row for a flag
func (tdb *TestDB) LatestEvaluation(t *testing.T, flagKey string) *entity.FlagEvaluation {
	var eval entity.FlagEvaluation
	err := tdb.DB.Get(&eval, `
		SELECT id, flag_key, subject_type, subject_id, result, consent_granted, rollout_percentage_snapshot, evaluation_reason, trace_id, created_at
		FROM flag_evaluations
		WHERE flag_key = $1
		ORDER BY id DESC
		LIMIT 1
	`, flagKey)
	require.NoError(t, err, "Failed to get latest evaluation row")
	return &eval
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
