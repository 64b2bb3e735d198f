package preparation

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/procureflow/internal/shared"
)

// QualitySource lists QC outcomes per supplier.
type QualitySource interface {
	QualitySamples(ctx context.Context) ([]QualitySample, error)
}

var gradePoints = map[string]float64{"A": 4, "B": 3, "C": 2, "D": 1}

// SupplierRanker scores suppliers from QC history. Concurrent callers share
// one computation.
type SupplierRanker struct {
	source QualitySource
	group  singleflight.Group
}

// NewSupplierRanker constructs SupplierRanker.
func NewSupplierRanker(source QualitySource) *SupplierRanker {
	return &SupplierRanker{source: source}
}

// RankSuppliers returns suppliers best first: higher average grade, then
// higher acceptance rate, then more deliveries.
func (r *SupplierRanker) RankSuppliers(ctx context.Context) ([]SupplierScore, error) {
	v, err, _ := r.group.Do("rank", func() (any, error) {
		samples, err := r.source.QualitySamples(ctx)
		if err != nil {
			return nil, shared.Dependency("preparation.rank_suppliers", err)
		}
		return Rank(samples), nil
	})
	if err != nil {
		return nil, err
	}
	scores := v.([]SupplierScore)
	out := make([]SupplierScore, len(scores))
	copy(out, scores)
	return out, nil
}

// Rank aggregates samples into supplier scores.
func Rank(samples []QualitySample) []SupplierScore {
	type acc struct {
		name     string
		points   float64
		graded   int
		total    int
		accepted int
	}
	bySupplier := make(map[string]*acc)
	for _, sample := range samples {
		if sample.SupplierID == "" {
			continue
		}
		a, ok := bySupplier[sample.SupplierID]
		if !ok {
			a = &acc{}
			bySupplier[sample.SupplierID] = a
		}
		if sample.SupplierName != "" {
			a.name = sample.SupplierName
		}
		if p, ok := gradePoints[strings.ToUpper(sample.Grade)]; ok {
			a.points += p
			a.graded++
		}
		a.total++
		if sample.Accepted {
			a.accepted++
		}
	}
	out := make([]SupplierScore, 0, len(bySupplier))
	for id, a := range bySupplier {
		score := SupplierScore{SupplierID: id, SupplierName: a.name, Deliveries: a.total}
		if a.graded > 0 {
			score.AverageGrade = round2(a.points / float64(a.graded))
		}
		score.AcceptanceRate = round2(float64(a.accepted) / float64(a.total) * 100)
		out = append(out, score)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageGrade != out[j].AverageGrade {
			return out[i].AverageGrade > out[j].AverageGrade
		}
		if out[i].AcceptanceRate != out[j].AcceptanceRate {
			return out[i].AcceptanceRate > out[j].AcceptanceRate
		}
		if out[i].Deliveries != out[j].Deliveries {
			return out[i].Deliveries > out[j].Deliveries
		}
		return out[i].SupplierID < out[j].SupplierID
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
