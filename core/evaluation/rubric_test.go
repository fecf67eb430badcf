package evaluation

import (
	"testing"
)

func twoTurnPartials() []PartialScore {
	return []PartialScore{
		{TurnNumber: 1, Scores: map[string]int{"opening": 6, "discovery": 7}},
		{TurnNumber: 3, Scores: map[string]int{"opening": 8, "discovery": 5}},
	}
}

func TestTotalScoreFlattensAcrossDimensions(t *testing.T) {
	rubric := DefaultRubric()

	got := rubric.TotalScore(twoTurnPartials())
	if got != 65.0 {
		t.Fatalf("expected total score 65.0 from raw scores [6 7 8 5], got %v", got)
	}
}

func TestTotalScoreOfNoPartialsIsZero(t *testing.T) {
	if got := DefaultRubric().TotalScore(nil); got != 0 {
		t.Fatalf("expected total score 0 without partials, got %v", got)
	}
}

func TestDimensionScoresAverageAndRescale(t *testing.T) {
	rubric := DefaultRubric()

	scores := rubric.DimensionScores(twoTurnPartials())
	byKey := map[string]DimensionScore{}
	for _, score := range scores {
		byKey[score.Key] = score
	}

	if byKey["opening"].Score != 70.0 {
		t.Fatalf("expected opening mean(6,8)*10 = 70.0, got %v", byKey["opening"].Score)
	}
	if byKey["discovery"].Score != 60.0 {
		t.Fatalf("expected discovery mean(7,5)*10 = 60.0, got %v", byKey["discovery"].Score)
	}
}

func TestDimensionScoresAreOrderedByWeightDescending(t *testing.T) {
	scores := DefaultRubric().DimensionScores(twoTurnPartials())

	for i := 1; i < len(scores); i++ {
		if scores[i].Weight > scores[i-1].Weight {
			t.Fatalf("expected weight-descending order, got %v before %v", scores[i-1].Weight, scores[i].Weight)
		}
	}
}

func TestWeakDimensionsRankWeakestFirst(t *testing.T) {
	rubric := Rubric{
		{Key: "a", Name: "A", Weight: 0.5},
		{Key: "b", Name: "B", Weight: 0.3},
		{Key: "c", Name: "C", Weight: 0.2},
	}
	partials := []PartialScore{
		{TurnNumber: 1, Scores: map[string]int{"a": 5, "b": 8, "c": 6}},
	}

	weak := rubric.WeakDimensions(partials)
	if len(weak) != 2 {
		t.Fatalf("expected two dimensions under the threshold, got %d", len(weak))
	}
	if weak[0].Key != "a" || weak[1].Key != "c" {
		t.Fatalf("expected [a c] ranked weakest first, got [%s %s]", weak[0].Key, weak[1].Key)
	}
}

func TestDefaultRubricWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, dimension := range DefaultRubric() {
		sum += dimension.Weight
	}
	if round1(sum) != 1.0 {
		t.Fatalf("expected rubric weights to sum to 1.0, got %v", sum)
	}
}
