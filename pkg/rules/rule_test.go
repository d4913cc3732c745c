package rules

import (
	"testing"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriteria_Matches(t *testing.T) {
	lead := domain.LeadSnapshot{ID: 1, Score: 65, Source: "Webinar", Industry: "Software"}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"Empty criteria match any lead", Criteria{}, true},
		{"Industry match ignores case", Criteria{Industries: []string{"software", "retail"}}, true},
		{"Industry mismatch", Criteria{Industries: []string{"retail"}}, false},
		{"Source match", Criteria{Sources: []string{"webinar"}}, true},
		{"Source mismatch", Criteria{Sources: []string{"referral"}}, false},
		{"Score inside range", Criteria{MinScore: intPtr(50), MaxScore: intPtr(65)}, true},
		{"Score below minimum", Criteria{MinScore: intPtr(70)}, false},
		{"Score above maximum", Criteria{MaxScore: intPtr(60)}, false},
		{"All criteria combined", Criteria{Industries: []string{"software"}, Sources: []string{"webinar"}, MinScore: intPtr(60)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(lead))
		})
	}
}

func TestCriteria_Scan(t *testing.T) {
	var c Criteria
	require.NoError(t, c.Scan([]byte(`{"industries":["retail"],"max_score":40}`)))
	assert.Equal(t, []string{"retail"}, c.Industries)
	require.NotNil(t, c.MaxScore)
	assert.Equal(t, 40, *c.MaxScore)

	require.NoError(t, c.Scan(`{}`))
	assert.Empty(t, c.Industries)

	require.NoError(t, c.Scan(nil))
	assert.Equal(t, Criteria{}, c)

	assert.Error(t, c.Scan(42))
}
