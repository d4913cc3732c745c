package testdata

import (
	"math/rand"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/leadrouting/pkg/domain"
)

// Industries used by generated leads
var Industries = []string{
	"tattoo", "beauty", "barber", "gym", "spa", "nail", "dentist", "pharmacy",
	"restaurant", "cafe", "lawyer", "accountant", "plumber", "electrician",
}

// Sources used by generated leads
var Sources = []string{"web", "referral", "import", "api", "event", "partner"}

// LeadGeneratorConfig configures lead generation parameters
type LeadGeneratorConfig struct {
	TenantID int64
	Industry string // empty picks a random industry per lead
	Source   string // empty picks a random source per lead
	MinScore int    // 0-100
	MaxScore int    // 0-100
}

// GenerateLead builds a routable lead snapshot with the given id.
func GenerateLead(id int64, config LeadGeneratorConfig) domain.LeadSnapshot {
	industry := config.Industry
	if industry == "" {
		industry = Industries[rand.Intn(len(Industries))]
	}
	source := config.Source
	if source == "" {
		source = Sources[rand.Intn(len(Sources))]
	}

	minScore, maxScore := config.MinScore, config.MaxScore
	if maxScore <= 0 || maxScore > 100 {
		maxScore = 100
	}
	if minScore < 0 || minScore > maxScore {
		minScore = 0
	}

	return domain.LeadSnapshot{
		ID:       id,
		TenantID: config.TenantID,
		Score:    gofakeit.Number(minScore, maxScore),
		Source:   source,
		Industry: industry,
		Status:   domain.LeadStatusNew,
	}
}

// GenerateLeads builds count leads with ids starting at firstID.
func GenerateLeads(firstID int64, count int, config LeadGeneratorConfig) []domain.LeadSnapshot {
	leads := make([]domain.LeadSnapshot, 0, count)
	for i := 0; i < count; i++ {
		leads = append(leads, GenerateLead(firstID+int64(i), config))
	}
	return leads
}

// GenerateSalesUsers builds active directory users with ids starting at firstID.
func GenerateSalesUsers(firstID int64, count, capacity int) []domain.DirectoryUser {
	users := make([]domain.DirectoryUser, 0, count)
	for i := 0; i < count; i++ {
		users = append(users, domain.DirectoryUser{
			ID:          firstID + int64(i),
			Name:        gofakeit.Name(),
			Email:       gofakeit.Email(),
			MaxCapacity: capacity,
			Active:      true,
		})
	}
	return users
}
