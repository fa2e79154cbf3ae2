package recommend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
)

func TestEveryBuiltInLabelHasAdvisory(t *testing.T) {
	rules := analysis.DefaultRuleSet()
	table := DefaultAdvisories()
	for _, source := range []models.Source{models.SourceGait, models.SourceFacial, models.SourceAudio} {
		for _, label := range rules.Vocabulary(source) {
			require.Contains(t, table, label, "source %s", source)
		}
	}
}

func TestForIsDeterministicWithGenericFallback(t *testing.T) {
	e := NewEngine(Options{})
	require.Equal(t, e.For(analysis.LabelHemiparesis), e.For("  POSSIBLE  hemiparesis/stroke pattern"))
	require.Contains(t, e.For(analysis.LabelHemiparesis), "immediate medical attention")
	require.Equal(t,
		"Possible gout was suggested by the analysis. Please consult a healthcare provider for proper evaluation.",
		e.For("possible gout"))
}

func TestGenericFallbackKeepsNonASCIILabels(t *testing.T) {
	e := NewEngine(Options{})
	require.Equal(t,
		"Éruption cutanée was suggested by the analysis. Please consult a healthcare provider for proper evaluation.",
		e.For("éruption cutanée"))
	require.True(t, strings.HasPrefix(e.For("ödem"), "Ödem "))
}

func TestOverridesReplaceDefaults(t *testing.T) {
	e := NewEngine(Options{Advisories: map[string]string{
		analysis.LabelAbnormalCough: "See your GP about the cough.",
		"possible gout":             "Avoid alcohol and see a rheumatologist.",
	}})
	require.Equal(t, "See your GP about the cough.", e.For(analysis.LabelAbnormalCough))
	require.Equal(t, "Avoid alcohol and see a rheumatologist.", e.For("Possible Gout"))
}

func TestForVision(t *testing.T) {
	e := NewEngine(Options{})
	got := e.ForVision(models.LabelScore{Label: "skin rash or irritation", Score: 0.85}, analysis.HealthyPrompt)
	require.Equal(t, []string{
		"Based on the analysis, there is a 85.0% confidence of skin rash or irritation. Please consult a healthcare professional for proper evaluation.",
	}, got)

	require.Empty(t, e.ForVision(models.LabelScore{Label: "skin rash or irritation", Score: 0.7}, analysis.HealthyPrompt))
	require.Empty(t, e.ForVision(models.LabelScore{Label: analysis.HealthyPrompt, Score: 0.95}, analysis.HealthyPrompt))
}

func TestForDiagnosisFiltersAndDedupes(t *testing.T) {
	e := NewEngine(Options{Advisories: map[string]string{"possible flu": "Rest."}})
	got := e.ForDiagnosis([]models.DiagnosisEntry{
		{Condition: analysis.LabelRespiratory, Confidence: 0.8},
		{Condition: "possible flu", Confidence: 0.3},
		{Condition: analysis.LabelRespiratory, Confidence: 0.5},
		{Condition: analysis.LabelCardiac, Confidence: 0.29},
	})
	require.Equal(t, []string{e.For(analysis.LabelRespiratory), "Rest."}, got)
}
