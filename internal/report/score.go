package report

import "github.com/alouette-a11y/alouette/internal/model"

// Severity weights for the score. Minor and unknown impacts do not cost
// points.
var severityWeights = map[model.Impact]int{
	model.ImpactCritical: 5,
	model.ImpactSerious:  2,
	model.ImpactModerate: 1,
}

// Weight returns the score penalty of one occurrence of impact.
func Weight(impact model.Impact) int {
	return severityWeights[impact]
}

func clampScore(penalty int) int {
	if penalty >= 100 {
		return 0
	}
	return 100 - penalty
}

// Score is max(0, 100 - sum of weights) over every occurrence.
func Score(vs []model.RawViolation) int {
	penalty := 0
	for _, v := range vs {
		penalty += Weight(v.Impact)
		if penalty >= 100 {
			return 0
		}
	}
	return clampScore(penalty)
}
