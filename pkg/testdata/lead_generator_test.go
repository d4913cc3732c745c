package testdata

import (
	"testing"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestGenerateLeads(t *testing.T) {
	t.Run("Success - Scores stay in range", func(t *testing.T) {
		leads := GenerateLeads(100, 50, LeadGeneratorConfig{TenantID: 3, MinScore: 40, MaxScore: 60})

		assert.Len(t, leads, 50)
		for i, lead := range leads {
			assert.Equal(t, int64(100+i), lead.ID)
			assert.Equal(t, int64(3), lead.TenantID)
			assert.GreaterOrEqual(t, lead.Score, 40)
			assert.LessOrEqual(t, lead.Score, 60)
			assert.Equal(t, domain.LeadStatusNew, lead.Status)
		}
	})

	t.Run("Success - Fixed industry and source", func(t *testing.T) {
		lead := GenerateLead(1, LeadGeneratorConfig{Industry: "gym", Source: "web"})

		assert.Equal(t, "gym", lead.Industry)
		assert.Equal(t, "web", lead.Source)
		assert.LessOrEqual(t, lead.Score, 100)
	})

	t.Run("Success - Random industry comes from the known list", func(t *testing.T) {
		lead := GenerateLead(1, LeadGeneratorConfig{})

		assert.Contains(t, Industries, lead.Industry)
		assert.Contains(t, Sources, lead.Source)
	})
}

func TestGenerateSalesUsers(t *testing.T) {
	users := GenerateSalesUsers(10, 3, 5)

	assert.Len(t, users, 3)
	for i, u := range users {
		assert.Equal(t, int64(10+i), u.ID)
		assert.Equal(t, 5, u.MaxCapacity)
		assert.True(t, u.Active)
		assert.NotEmpty(t, u.Email)
	}
}
