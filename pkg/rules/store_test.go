package rules

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jordanlanch/leadrouting/pkg/cache"
	"github.com/jordanlanch/leadrouting/pkg/database"
	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.Client {
	client, err := database.OpenSQLite(context.Background(), "file:"+t.Name()+"?mode=memory&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := &cache.Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, 30*time.Second, logger.Nop()), mr
}

func intPtr(v int) *int { return &v }

func TestStore_Create(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, nil)
	ctx := context.Background()

	t.Run("Success - Create rule with criteria", func(t *testing.T) {
		rule, err := store.Create(ctx, 1, CreateRuleRequest{
			Name:          "Enterprise tech",
			Strategy:      domain.StrategyRoundRobin,
			PriorityOrder: 1,
			Criteria: Criteria{
				Industries: []string{"software"},
				MinScore:   intPtr(70),
			},
			AllowOverflow: true,
		})

		require.NoError(t, err)
		assert.NotZero(t, rule.ID)
		assert.Equal(t, int64(1), rule.TenantID)
		assert.Equal(t, domain.StrategyRoundRobin, rule.Strategy)
		assert.True(t, rule.Active)
		assert.True(t, rule.AllowOverflow)
		assert.Equal(t, []string{"software"}, rule.Criteria.Industries)
		require.NotNil(t, rule.Criteria.MinScore)
		assert.Equal(t, 70, *rule.Criteria.MinScore)
		assert.Nil(t, rule.Criteria.MaxScore)
		assert.False(t, rule.CreatedAt.IsZero())
	})

	t.Run("Error - Unknown strategy", func(t *testing.T) {
		_, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Bad", Strategy: "RANDOM", PriorityOrder: 2})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Missing name", func(t *testing.T) {
		_, err := store.Create(ctx, 1, CreateRuleRequest{Name: "  ", Strategy: domain.StrategyManual, PriorityOrder: 3})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Inverted score range", func(t *testing.T) {
		_, err := store.Create(ctx, 1, CreateRuleRequest{
			Name:          "Inverted",
			Strategy:      domain.StrategyLeastWorkload,
			PriorityOrder: 4,
			Criteria:      Criteria{MinScore: intPtr(80), MaxScore: intPtr(20)},
		})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Duplicate active priority", func(t *testing.T) {
		_, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Clash", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 1})
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("Success - Same priority in another tenant", func(t *testing.T) {
		_, err := store.Create(ctx, 2, CreateRuleRequest{Name: "Other tenant", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 1})
		assert.NoError(t, err)
	})
}

func TestStore_ListOrderAndDisable(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, nil)
	ctx := context.Background()

	third, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Third", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 30})
	require.NoError(t, err)
	first, err := store.Create(ctx, 1, CreateRuleRequest{Name: "First", Strategy: domain.StrategyRoundRobin, PriorityOrder: 10})
	require.NoError(t, err)
	second, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Second", Strategy: domain.StrategyTerritoryMatch, PriorityOrder: 20})
	require.NoError(t, err)

	t.Run("Success - Evaluation order is priority ascending", func(t *testing.T) {
		list, err := store.List(ctx, 1, ListFilter{})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []int64{first.ID, second.ID, third.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
	})

	t.Run("Success - Disabled rule leaves active set but is kept", func(t *testing.T) {
		disabled, err := store.Disable(ctx, 1, second.ID)
		require.NoError(t, err)
		assert.False(t, disabled.Active)

		active, err := store.ListActive(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, active, 2)

		all, err := store.List(ctx, 1, ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("Success - Disabled priority can be reused", func(t *testing.T) {
		_, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Replacement", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 20})
		assert.NoError(t, err)
	})

	t.Run("Error - Re-enabling into a taken priority conflicts", func(t *testing.T) {
		active := true
		_, err := store.Update(ctx, 1, second.ID, UpdateRuleRequest{Active: &active})
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("Error - Disable rule of another tenant", func(t *testing.T) {
		_, err := store.Disable(ctx, 2, first.ID)
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestStore_Update(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, nil)
	ctx := context.Background()

	rule, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Inbound", Strategy: domain.StrategyRoundRobin, PriorityOrder: 1})
	require.NoError(t, err)

	t.Run("Success - Partial update", func(t *testing.T) {
		strategy := domain.StrategyLeastWorkload
		overflow := true
		updated, err := store.Update(ctx, 1, rule.ID, UpdateRuleRequest{
			Strategy:      &strategy,
			AllowOverflow: &overflow,
			Criteria:      &Criteria{Sources: []string{"webinar"}},
		})

		require.NoError(t, err)
		assert.Equal(t, "Inbound", updated.Name)
		assert.Equal(t, domain.StrategyLeastWorkload, updated.Strategy)
		assert.True(t, updated.AllowOverflow)
		assert.Equal(t, []string{"webinar"}, updated.Criteria.Sources)
	})

	t.Run("Error - Invalid strategy", func(t *testing.T) {
		strategy := domain.Strategy("AUCTION")
		_, err := store.Update(ctx, 1, rule.ID, UpdateRuleRequest{Strategy: &strategy})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Unknown rule", func(t *testing.T) {
		name := "ghost"
		_, err := store.Update(ctx, 1, 9999, UpdateRuleRequest{Name: &name})
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestStore_Cursor(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, nil)
	ctx := context.Background()

	t.Run("Success - Unset before the first advance", func(t *testing.T) {
		cur, err := store.Cursor(ctx, 1, 5)
		require.NoError(t, err)
		assert.False(t, cur.Set())
	})

	t.Run("Success - Advances from the read position", func(t *testing.T) {
		cur, err := store.Cursor(ctx, 1, 5)
		require.NoError(t, err)
		ok, err := store.AdvanceCursor(ctx, 1, 5, cur, 11)
		require.NoError(t, err)
		assert.True(t, ok)

		cur, err = store.Cursor(ctx, 1, 5)
		require.NoError(t, err)
		ok, err = store.AdvanceCursor(ctx, 1, 5, cur, 12)
		require.NoError(t, err)
		assert.True(t, ok)

		cur, err = store.Cursor(ctx, 1, 5)
		require.NoError(t, err)
		assert.Equal(t, Cursor{LastUserID: 12, Version: 2}, cur)
	})

	t.Run("Error - Stale position loses", func(t *testing.T) {
		ok, err := store.AdvanceCursor(ctx, 1, 5, Cursor{LastUserID: 11, Version: 1}, 12)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.AdvanceCursor(ctx, 1, 5, Cursor{}, 11)
		require.NoError(t, err)
		assert.False(t, ok)

		cur, err := store.Cursor(ctx, 1, 5)
		require.NoError(t, err)
		assert.Equal(t, Cursor{LastUserID: 12, Version: 2}, cur)
	})

	t.Run("Success - Same user id is not mistaken for the same position", func(t *testing.T) {
		cur, err := store.Cursor(ctx, 1, 5)
		require.NoError(t, err)
		for _, userID := range []int64{13, 11, 12} {
			ok, err := store.AdvanceCursor(ctx, 1, 5, mustCursor(t, store, 1, 5), userID)
			require.NoError(t, err)
			require.True(t, ok)
		}

		ok, err := store.AdvanceCursor(ctx, 1, 5, cur, 13)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Success - Rewind restores the previous user", func(t *testing.T) {
		previous := mustCursor(t, store, 1, 5)
		ok, err := store.AdvanceCursor(ctx, 1, 5, previous, 13)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.RewindCursor(ctx, 1, 5, previous.Next(13), previous))

		cur := mustCursor(t, store, 1, 5)
		assert.Equal(t, previous.LastUserID, cur.LastUserID)
		assert.Greater(t, cur.Version, previous.Next(13).Version)
	})

	t.Run("Success - Rewind after another advance does nothing", func(t *testing.T) {
		previous := mustCursor(t, store, 1, 5)
		ok, err := store.AdvanceCursor(ctx, 1, 5, previous, 13)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = store.AdvanceCursor(ctx, 1, 5, previous.Next(13), 11)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.RewindCursor(ctx, 1, 5, previous.Next(13), previous))
		assert.Equal(t, int64(11), mustCursor(t, store, 1, 5).LastUserID)
	})

	t.Run("Success - Rewinding the first advance clears the cursor", func(t *testing.T) {
		ok, err := store.AdvanceCursor(ctx, 2, 5, Cursor{}, 30)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.RewindCursor(ctx, 2, 5, Cursor{}.Next(30), Cursor{}))
		assert.False(t, mustCursor(t, store, 2, 5).Set())
	})
}

func mustCursor(t *testing.T, store *Store, tenantID, ruleID int64) Cursor {
	cur, err := store.Cursor(context.Background(), tenantID, ruleID)
	require.NoError(t, err)
	return cur
}

func TestStore_ActiveRuleCache(t *testing.T) {
	db := setupTestDB(t)
	ruleCache, mr := setupTestCache(t)
	store := NewStore(db, ruleCache)
	ctx := context.Background()

	rule, err := store.Create(ctx, 1, CreateRuleRequest{Name: "Cached", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 1})
	require.NoError(t, err)

	active, err := store.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, mr.Exists(activeRulesKey(1)))

	t.Run("Success - Disable invalidates cached set", func(t *testing.T) {
		_, err := store.Disable(ctx, 1, rule.ID)
		require.NoError(t, err)
		assert.False(t, mr.Exists(activeRulesKey(1)))

		active, err := store.ListActive(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("Success - Cache expires after TTL", func(t *testing.T) {
		_, err := store.ListActive(ctx, 1)
		require.NoError(t, err)
		mr.FastForward(31 * time.Second)
		assert.False(t, mr.Exists(activeRulesKey(1)))
	})

	t.Run("Success - Redis outage falls back to database", func(t *testing.T) {
		mr.Close()
		active, err := store.ListActive(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}
