// Package cluster groups classified failures that share a PHI type and root cause.
package cluster

import (
	"sort"

	"github.com/sells-group/phi-regress/internal/model"
)

// Aggregate groups classified failures by (type, root cause, sub-category).
// Clusters are returned by descending count; ties keep discovery order.
func Aggregate(failures []model.ClassifiedFailure) []model.Cluster {
	index := make(map[model.ClusterKey]int)
	var clusters []model.Cluster

	for _, f := range failures {
		key := model.ClusterKey{
			Type:        f.Record.Type,
			RootCause:   f.Classification.RootCause,
			SubCategory: f.Classification.SubCategory,
		}
		i, ok := index[key]
		if !ok {
			i = len(clusters)
			index[key] = i
			clusters = append(clusters, model.Cluster{ClusterKey: key})
		}

		c := &clusters[i]
		c.Count++
		c.ConfidenceSum += f.Classification.Confidence
		if len(c.Examples) < model.MaxClusterExamples && !contains(c.Examples, f.Record.Value) {
			c.Examples = append(c.Examples, f.Record.Value)
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Count > clusters[j].Count
	})
	return clusters
}

// ByRootCause totals failure counts per root cause.
func ByRootCause(clusters []model.Cluster) map[model.RootCause]int {
	out := make(map[model.RootCause]int)
	for _, c := range clusters {
		out[c.RootCause] += c.Count
	}
	return out
}

// Top returns at most n clusters from an already sorted slice.
func Top(clusters []model.Cluster, n int) []model.Cluster {
	if n < 0 || len(clusters) <= n {
		return clusters
	}
	return clusters[:n]
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
