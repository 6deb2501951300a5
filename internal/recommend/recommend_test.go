package recommend

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phi-regress/internal/model"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		count int
		want  model.Priority
	}{
		{0, model.PriorityLow},
		{4, model.PriorityLow},
		{5, model.PriorityMedium},
		{9, model.PriorityMedium},
		{10, model.PriorityHigh},
		{250, model.PriorityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.count), "count=%d", tt.count)
	}
}

func TestGenerate_CapsAtTen(t *testing.T) {
	var clusters []model.Cluster
	for i := 0; i < 15; i++ {
		clusters = append(clusters, model.Cluster{
			ClusterKey: model.ClusterKey{Type: fmt.Sprintf("T%d", i), RootCause: model.RootCauseFormatVariation},
			Count:      20 - i,
		})
	}

	recs := Generate(clusters)
	require.Len(t, recs, MaxRecommendations)
	assert.Equal(t, "T0", recs[0].Cluster.Type)
	assert.Equal(t, "T9", recs[9].Cluster.Type)
}

func TestGenerate_LookupByRootCause(t *testing.T) {
	clusters := []model.Cluster{
		{ClusterKey: model.ClusterKey{Type: "DATE", RootCause: model.RootCauseDataGenerationBug, SubCategory: "INVALID_DATE"}, Count: 12, Examples: []string{"13/45/2020"}},
		{ClusterKey: model.ClusterKey{Type: "NAME", RootCause: model.RootCauseOCRCorruption}, Count: 6},
		{ClusterKey: model.ClusterKey{Type: "X", RootCause: "SOMETHING_NEW"}, Count: 1},
	}

	recs := Generate(clusters)
	require.Len(t, recs, 3)

	assert.Equal(t, model.PriorityHigh, recs[0].Priority)
	assert.Equal(t, "test data generation", recs[0].TargetArea)
	assert.Contains(t, recs[0].Action, "generator")
	assert.Equal(t, []string{"13/45/2020"}, recs[0].Examples)
	assert.Equal(t, 12, recs[0].Count)

	assert.Equal(t, model.PriorityMedium, recs[1].Priority)
	assert.Contains(t, recs[1].Action, "OCR")

	assert.Equal(t, model.PriorityLow, recs[2].Priority)
	assert.NotEmpty(t, recs[2].Action)
}

func TestGenerate_Empty(t *testing.T) {
	assert.Empty(t, Generate(nil))
}
