package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/medassist/server/models"
)

const (
	shuffling = "possible shuffling gait (Parkinsonian pattern)"
	hip       = "possible hip/leg-length asymmetry"
)

var gaitSchema = Schema{
	Source:  models.SourceGait,
	Numeric: map[string]Domain{"stride_length": NonNegative},
	Categorical: map[string][]models.Category{
		"posture": {models.CategorySymmetric, models.CategoryAsymmetric},
	},
	Vocabulary: []string{shuffling, hip},
}

func posture(c models.Category) Record {
	return Record{Categorical: map[string]models.Category{"posture": c}}
}

func TestAggregateEmptySequence(t *testing.T) {
	summary, err := Aggregate(gaitSchema, nil)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Units)
	require.False(t, summary.Numeric["stride_length"].Known)
	require.Equal(t, models.CategoryUnknown, summary.Categorical["posture"])
	require.Empty(t, summary.Conditions)
}

func TestAggregateNumericMeanSkipsUnknown(t *testing.T) {
	records := []Record{
		{Numeric: map[string]models.Number{"stride_length": models.Known(0.2)}},
		{Numeric: map[string]models.Number{"stride_length": models.UnknownNumber()}},
		{Numeric: map[string]models.Number{"stride_length": models.Known(0.4)}},
		{},
	}
	summary, err := Aggregate(gaitSchema, records)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Units)
	require.True(t, summary.Numeric["stride_length"].Known)
	require.InDelta(t, 0.3, summary.Numeric["stride_length"].Value, 1e-12)
}

func TestAggregateAllUnknownStaysUnknown(t *testing.T) {
	records := []Record{
		{Numeric: map[string]models.Number{"stride_length": models.UnknownNumber()}},
		posture(models.CategoryUnknown),
	}
	summary, err := Aggregate(gaitSchema, records)
	require.NoError(t, err)
	require.False(t, summary.Numeric["stride_length"].Known)
	require.Equal(t, models.CategoryUnknown, summary.Categorical["posture"])
}

func TestAggregateModeIsIdempotent(t *testing.T) {
	for n := 1; n <= 7; n++ {
		records := make([]Record, n)
		for i := range records {
			records[i] = posture(models.CategoryAsymmetric)
		}
		summary, err := Aggregate(gaitSchema, records)
		require.NoError(t, err)
		require.Equal(t, models.CategoryAsymmetric, summary.Categorical["posture"], "n=%d", n)
	}
}

func TestAggregateModeTieBreaksOnFirstSeen(t *testing.T) {
	records := []Record{
		posture(models.CategoryUnknown),
		posture(models.CategoryAsymmetric),
		posture(models.CategorySymmetric),
		posture(models.CategorySymmetric),
		posture(models.CategoryAsymmetric),
	}
	summary, err := Aggregate(gaitSchema, records)
	require.NoError(t, err)
	require.Equal(t, models.CategoryAsymmetric, summary.Categorical["posture"])

	records = append(records, posture(models.CategorySymmetric))
	summary, err = Aggregate(gaitSchema, records)
	require.NoError(t, err)
	require.Equal(t, models.CategorySymmetric, summary.Categorical["posture"])
}

func TestAggregateKeepsEvidenceCounts(t *testing.T) {
	records := []Record{
		{Hypotheses: []models.Hypothesis{{Label: shuffling, Source: models.SourceGait, Strength: 0.4}}},
		{Hypotheses: []models.Hypothesis{
			{Label: shuffling, Source: models.SourceGait, Strength: 0.6},
			{Label: hip, Source: models.SourceGait, Strength: 0.3},
		}},
		{Hypotheses: []models.Hypothesis{{Label: shuffling, Source: models.SourceGait, Strength: 0.5}}},
	}
	summary, err := Aggregate(gaitSchema, records)
	require.NoError(t, err)
	require.Equal(t, []models.ConditionEvidence{
		{Label: hip, Source: models.SourceGait, Count: 1, MaxStrength: 0.3},
		{Label: shuffling, Source: models.SourceGait, Count: 3, MaxStrength: 0.6},
	}, summary.Conditions)
}

func TestAggregateRejectsOutOfDomainValues(t *testing.T) {
	cases := map[string]Record{
		"negative stride":  {Numeric: map[string]models.Number{"stride_length": models.Known(-0.1)}},
		"undeclared field": {Numeric: map[string]models.Number{"cadence": models.Known(1)}},
		"bad category":     posture("leaning"),
		"foreign label":    {Hypotheses: []models.Hypothesis{{Label: "flu", Source: models.SourceGait, Strength: 0.2}}},
		"foreign source":   {Hypotheses: []models.Hypothesis{{Label: hip, Source: models.SourceFacial, Strength: 0.2}}},
		"strength above 1": {Hypotheses: []models.Hypothesis{{Label: hip, Source: models.SourceGait, Strength: 1.2}}},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Aggregate(gaitSchema, []Record{rec})
			require.ErrorIs(t, err, models.ErrInvalidMetric)
		})
	}
}
