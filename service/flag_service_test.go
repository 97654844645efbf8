package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"flagengine/entity"
	"flagengine/repository"
	"flagengine/test"
	"flagengine/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagService(testDB *test.TestDB) FlagService {
	flagRepo := repository.NewFlagRepository(testDB.DB)
	auditRepo := repository.NewAuditRepository(testDB.DB)
	evalRepo := repository.NewEvaluationRepository(testDB.DB)
	return NewFlagService(flagRepo, auditRepo, evalRepo, repository.NewNoopFlagCache(), test.GetTestLogger())
}

func TestFlagService_CreateFlag(t *testing.T) {
	testDB := test.SetupTestDB(t)
	defer testDB.Close()
	defer testDB.CleanTables(t)

	svc := newFlagService(testDB)
	ctx := context.Background()

	t.Run("create flag", func(t *testing.T) {
		req := validator.FlagCreateRequest{
			FlagKey:           "checkout_v2",
			Description:       "New checkout flow",
			RolloutPercentage: 10,
			Whitelist:         []string{"42"},
		}

		flag, err := svc.CreateFlag(ctx, req, "admin-1", "initial rollout")
		require.NoError(t, err)
		assert.Equal(t, "checkout_v2", flag.FlagKey)
		assert.False(t, flag.Enabled)
		assert.Equal(t, 10, flag.RolloutPercentage)
		assert.Equal(t, []string{"42"}, []string(flag.Whitelist))

		testDB.AssertAuditExists(t, "checkout_v2", entity.ActionCreate, "admin-1")
	})

	t.Run("create audit has no before state", func(t *testing.T) {
		_, err := svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "fresh_flag"}, "admin-1", "")
		require.NoError(t, err)

		audits, err := svc.GetFlagAudits(ctx, "fresh_flag")
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.Nil(t, audits[0].BeforeState)
		require.NotNil(t, audits[0].AfterState)

		var after entity.FlagState
		require.NoError(t, json.Unmarshal(audits[0].AfterState, &after))
		assert.Equal(t, "fresh_flag", after.FlagKey)
	})

	t.Run("create flag with invalid key", func(t *testing.T) {
		_, err := svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "_bad_key"}, "admin-1", "")
		assert.Error(t, err)
	})

	t.Run("create flag with out of range rollout", func(t *testing.T) {
		_, err := svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "over_rolled", RolloutPercentage: 150}, "admin-1", "")
		assert.Error(t, err)

		_, err = svc.GetFlag(ctx, "over_rolled")
		assert.ErrorIs(t, err, ErrFlagNotFound)
	})

	t.Run("create duplicate flag", func(t *testing.T) {
		_, err := svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "duplicate_flag"}, "admin-1", "")
		require.NoError(t, err)

		_, err = svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "duplicate_flag"}, "admin-1", "")
		assert.ErrorIs(t, err, ErrFlagAlreadyExists)
	})

	t.Run("deleted key cannot be reused", func(t *testing.T) {
		_, err := svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "recycled"}, "admin-1", "")
		require.NoError(t, err)
		require.NoError(t, svc.DeleteFlag(ctx, "recycled", "admin-1", "cleanup"))

		_, err = svc.CreateFlag(ctx, validator.FlagCreateRequest{FlagKey: "recycled"}, "admin-1", "")
		assert.ErrorIs(t, err, ErrFlagAlreadyExists)
	})
}

func TestFlagService_UpdateFlag(t *testing.T) {
	testDB := test.SetupTestDB(t)
	defer testDB.Close()
	defer testDB.CleanTables(t)

	svc := newFlagService(testDB)
	ctx := context.Background()

	t.Run("partial update leaves unsupplied fields unchanged", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{
			FlagKey:           "partial_update",
			Description:       "original description",
			Enabled:           true,
			RolloutPercentage: 20,
			Whitelist:         []string{"7"},
		})

		rollout := 60
		flag, err := svc.UpdateFlag(ctx, "partial_update", validator.FlagUpdateRequest{
			RolloutPercentage: &rollout,
			Reason:            "expand rollout",
		}, "admin-1")
		require.NoError(t, err)

		assert.Equal(t, 60, flag.RolloutPercentage)
		assert.Equal(t, "original description", flag.Description)
		assert.True(t, flag.Enabled)
		assert.Equal(t, []string{"7"}, []string(flag.Whitelist))

		testDB.AssertAuditExists(t, "partial_update", entity.ActionUpdate, "admin-1")
	})

	t.Run("audit row carries before and after snapshots", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{FlagKey: "snapshots", RolloutPercentage: 5})

		rollout := 50
		_, err := svc.UpdateFlag(ctx, "snapshots", validator.FlagUpdateRequest{RolloutPercentage: &rollout}, "admin-1")
		require.NoError(t, err)

		audits, err := svc.GetFlagAudits(ctx, "snapshots")
		require.NoError(t, err)
		require.Len(t, audits, 1)

		var before, after entity.FlagState
		require.NoError(t, json.Unmarshal(audits[0].BeforeState, &before))
		require.NoError(t, json.Unmarshal(audits[0].AfterState, &after))
		assert.Equal(t, 5, before.RolloutPercentage)
		assert.Equal(t, 50, after.RolloutPercentage)
		assert.Equal(t, entity.ActorAdmin, audits[0].ActorType)
	})

	t.Run("no-op update writes no audit and keeps updated_at", func(t *testing.T) {
		created := testDB.CreateTestFlag(t, entity.FeatureFlag{
			FlagKey:           "noop_update",
			Description:       "same",
			Enabled:           true,
			RolloutPercentage: 30,
		})

		var updatedAtBefore time.Time
		require.NoError(t, testDB.DB.Get(&updatedAtBefore, "SELECT updated_at FROM flags WHERE id = $1", created.ID))

		description := "same"
		enabled := true
		rollout := 30
		flag, err := svc.UpdateFlag(ctx, "noop_update", validator.FlagUpdateRequest{
			Description:       &description,
			Enabled:           &enabled,
			RolloutPercentage: &rollout,
		}, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, 30, flag.RolloutPercentage)

		assert.Equal(t, 0, testDB.CountAudits(t, "noop_update"))

		var updatedAtAfter time.Time
		require.NoError(t, testDB.DB.Get(&updatedAtAfter, "SELECT updated_at FROM flags WHERE id = $1", created.ID))
		assert.True(t, updatedAtAfter.Equal(updatedAtBefore), "updated_at bumped on no-op update")
	})

	t.Run("out of range rollout leaves flag unchanged", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{FlagKey: "guarded", RolloutPercentage: 10})

		rollout := 150
		_, err := svc.UpdateFlag(ctx, "guarded", validator.FlagUpdateRequest{RolloutPercentage: &rollout}, "admin-1")
		require.Error(t, err)

		flag, err := svc.GetFlag(ctx, "guarded")
		require.NoError(t, err)
		assert.Equal(t, 10, flag.RolloutPercentage)
		assert.Equal(t, 0, testDB.CountAudits(t, "guarded"))
	})

	t.Run("update non-existent flag", func(t *testing.T) {
		enabled := true
		_, err := svc.UpdateFlag(ctx, "missing_flag", validator.FlagUpdateRequest{Enabled: &enabled}, "admin-1")
		assert.ErrorIs(t, err, ErrFlagNotFound)
	})

	t.Run("update requires an actor", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{FlagKey: "actor_required"})

		enabled := true
		_, err := svc.UpdateFlag(ctx, "actor_required", validator.FlagUpdateRequest{Enabled: &enabled}, "")
		assert.Error(t, err)
	})
}

func TestFlagService_DeleteFlag(t *testing.T) {
	testDB := test.SetupTestDB(t)
	defer testDB.Close()
	defer testDB.CleanTables(t)

	svc := newFlagService(testDB)
	ctx := context.Background()

	t.Run("delete flag", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{FlagKey: "doomed", Enabled: true, RolloutPercentage: 80})

		err := svc.DeleteFlag(ctx, "doomed", "admin-2", "feature fully launched")
		require.NoError(t, err)

		_, err = svc.GetFlag(ctx, "doomed")
		assert.ErrorIs(t, err, ErrFlagNotFound)

		testDB.AssertAuditExists(t, "doomed", entity.ActionDelete, "admin-2")

		// Delete audit keeps the before snapshot, drops the after
		audits, err := svc.GetFlagAudits(ctx, "doomed")
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.NotNil(t, audits[0].BeforeState)
		assert.Nil(t, audits[0].AfterState)
	})

	t.Run("delete non-existent flag", func(t *testing.T) {
		err := svc.DeleteFlag(ctx, "never_existed", "admin-2", "")
		assert.ErrorIs(t, err, ErrFlagNotFound)
	})
}

func TestFlagService_ListAndHistory(t *testing.T) {
	testDB := test.SetupTestDB(t)
	defer testDB.Close()
	defer testDB.CleanTables(t)

	svc := newFlagService(testDB)
	ctx := context.Background()

	t.Run("list excludes soft-deleted flags", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{FlagKey: "alive"})
		testDB.CreateTestFlag(t, entity.FeatureFlag{FlagKey: "departed"})
		require.NoError(t, svc.DeleteFlag(ctx, "departed", "admin-1", ""))

		flags, err := svc.ListFlags(ctx)
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, "alive", flags[0].FlagKey)
	})

	t.Run("audit history readable after delete", func(t *testing.T) {
		audits, err := svc.GetFlagAudits(ctx, "departed")
		require.NoError(t, err)
		assert.Len(t, audits, 1)
	})

	t.Run("audit history for unknown flag", func(t *testing.T) {
		_, err := svc.GetFlagAudits(ctx, "unknown_flag")
		assert.ErrorIs(t, err, ErrFlagNotFound)
	})

	t.Run("evaluation log listing", func(t *testing.T) {
		testDB.CreateTestFlag(t, entity.FeatureFlag{
			FlagKey:           "observed",
			Enabled:           true,
			RolloutPercentage: 100,
			AnalyticsEnabled:  true,
		})

		evalRepo := repository.NewEvaluationRepository(testDB.DB)
		evalSvc := NewEvaluationService(repository.NewFlagRepository(testDB.DB), evalRepo, repository.NewNoopFlagCache(), test.GetTestLogger())

		userID := "u1"
		_, err := evalSvc.Evaluate(ctx, validator.EvaluateRequest{FlagKey: "observed", UserID: &userID, AnalyticsConsent: true})
		require.NoError(t, err)

		evals, err := svc.GetFlagEvaluations(ctx, "observed", 10, 0)
		require.NoError(t, err)
		require.Len(t, evals, 1)
		assert.Equal(t, "u1", evals[0].SubjectID)
		assert.Equal(t, entity.ReasonFullRollout, evals[0].EvaluationReason)
	})
}
