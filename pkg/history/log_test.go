package history

import (
	"context"
	"testing"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.Client {
	client, err := database.OpenSQLite(context.Background(), "file:"+t.Name()+"?mode=memory&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLog_AppendAndList(t *testing.T) {
	log := NewLog(setupTestDB(t))
	ctx := context.Background()
	ruleID := int64(4)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := log.Append(ctx, Record{
		TenantID: 1, LeadID: 10, AssignedUserID: 100, RuleID: &ruleID,
		Method: domain.StrategyLeastWorkload, Reason: "rule matched", CreatedAt: base,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = log.Append(ctx, Record{
		TenantID: 1, LeadID: 10, AssignedUserID: 200,
		Method: domain.StrategyManual, Reason: "reassigned by operator", CreatedAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = log.Append(ctx, Record{
		TenantID: 2, LeadID: 10, AssignedUserID: 300, Method: domain.StrategyRoundRobin, CreatedAt: base,
	})
	require.NoError(t, err)

	t.Run("Success - Newest first, tenant scoped", func(t *testing.T) {
		records, err := log.ListForLead(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(200), records[0].AssignedUserID)
		assert.Nil(t, records[0].RuleID)
		assert.Equal(t, domain.StrategyManual, records[0].Method)
		assert.Equal(t, int64(100), records[1].AssignedUserID)
		require.NotNil(t, records[1].RuleID)
		assert.Equal(t, ruleID, *records[1].RuleID)
		assert.True(t, records[1].CreatedAt.Equal(base))
	})

	t.Run("Success - Latest decision", func(t *testing.T) {
		latest, err := log.Latest(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(200), latest.AssignedUserID)
	})

	t.Run("Success - Same timestamp ordered by id", func(t *testing.T) {
		_, err := log.Append(ctx, Record{TenantID: 3, LeadID: 1, AssignedUserID: 1, Method: domain.StrategyRoundRobin, CreatedAt: base})
		require.NoError(t, err)
		second, err := log.Append(ctx, Record{TenantID: 3, LeadID: 1, AssignedUserID: 2, Method: domain.StrategyRoundRobin, CreatedAt: base})
		require.NoError(t, err)

		latest, err := log.Latest(ctx, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
	})

	t.Run("Error - No history", func(t *testing.T) {
		_, err := log.Latest(ctx, 1, 999)
		assert.True(t, domain.IsNotFound(err))

		records, err := log.ListForLead(ctx, 1, 999)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Error - Invalid method", func(t *testing.T) {
		_, err := log.Append(ctx, Record{TenantID: 1, LeadID: 1, AssignedUserID: 1, Method: "AUTO"})
		assert.True(t, domain.IsValidation(err))
	})
}

func TestLog_Release(t *testing.T) {
	log := NewLog(setupTestDB(t))
	ctx := context.Background()

	rec, err := log.Append(ctx, Record{TenantID: 1, LeadID: 10, AssignedUserID: 100, Method: domain.StrategyManual, Reason: "manual"})
	require.NoError(t, err)

	t.Run("Success - First release wins", func(t *testing.T) {
		released, err := log.Release(ctx, rec)
		require.NoError(t, err)
		assert.True(t, released)

		released, err = log.Release(ctx, rec)
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("Success - Unrelease allows a later release", func(t *testing.T) {
		require.NoError(t, log.Unrelease(ctx, rec))

		released, err := log.Release(ctx, rec)
		require.NoError(t, err)
		assert.True(t, released)
	})
}
