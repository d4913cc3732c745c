package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/jordanlanch/leadrouting/pkg/rules"
	"github.com/jordanlanch/leadrouting/pkg/testdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunOnce(t *testing.T) {
	h := setupHarness(t, 3, DefaultConfig())
	ctx := context.Background()

	h.createRule(t, rules.CreateRuleRequest{Name: "any", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 1})
	h.seedUsers(t, user(1, 5, true))
	h.route(t, 100, 0)
	h.route(t, 101, 0)

	directory := testdata.NewUserDirectory()
	directory.SetUsers(tenant, []domain.DirectoryUser{user(1, 5, true)})
	directory.SetUsers(2, nil)
	pool := NewPool(h.coordinator, directory, 1, time.Millisecond)

	claimed, err := pool.RunOnce(ctx, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	claimed, err = pool.RunOnce(ctx, "worker-a")
	require.NoError(t, err)
	assert.Zero(t, claimed)

	t.Run("Error - Directory outage", func(t *testing.T) {
		directory.Fail(true)
		_, err := pool.RunOnce(ctx, "worker-a")
		assert.True(t, domain.IsExternalService(err))
	})
}

func TestPool_RunDrainsUntilCancelled(t *testing.T) {
	h := setupHarness(t, 3, DefaultConfig())

	h.createRule(t, rules.CreateRuleRequest{Name: "any", Strategy: domain.StrategyLeastWorkload, PriorityOrder: 1})
	h.seedUsers(t, user(1, 50, true), user(2, 50, true))
	for lead := int64(100); lead < 120; lead++ {
		h.route(t, lead, 0)
	}

	directory := testdata.NewUserDirectory()
	directory.SetUsers(tenant, nil)
	pool := NewPool(h.coordinator, directory, 3, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		counts, err := h.queue.StatusCounts(context.Background(), tenant)
		return err == nil && counts[queue.StatusDone] == 20
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	assert.Equal(t, 20, h.count(t, 1)+h.count(t, 2))
	assert.Equal(t, 20, h.leads.OwnerWrites())
}
