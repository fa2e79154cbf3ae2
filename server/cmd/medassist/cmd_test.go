package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/config"
	"github.com/san-kum/medassist/server/middleware"
	"github.com/san-kum/medassist/server/models"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAnalyzeFeatureFile(t *testing.T) {
	path := writeFile(t, "features.json", `{"text": {"text": "fever and cough"}}`)

	out, err := execute(t, "", "analyze", path, "--progress=false")
	require.NoError(t, err)

	var report models.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotEmpty(t, report.ID)
	require.Len(t, report.DifferentialDiagnosis, 1)
	require.Equal(t, analysis.LabelRespiratoryInfection, report.DifferentialDiagnosis[0].Condition)
}

func TestAnalyzeStdinWithTextFlag(t *testing.T) {
	out, err := execute(t, "{}", "analyze", "--progress=false", "--text", "fever and cough")
	require.NoError(t, err)
	require.Contains(t, out, analysis.LabelRespiratoryInfection)
}

func TestAnalyzeEmptyBundle(t *testing.T) {
	_, err := execute(t, "", "analyze", "--progress=false")
	require.ErrorIs(t, err, models.ErrEmptyInput)

	_, err = execute(t, `{"sound": {}}`, "analyze", "--progress=false")
	require.ErrorContains(t, err, "failed to decode feature bundle")
}

func TestAnalyzeReadsRulesFromEnv(t *testing.T) {
	rules := writeFile(t, "rules.yaml", "advisories:\n  possible respiratory infection: Drink warm fluids.\n")
	t.Setenv("MEDASSIST_RULES", rules)

	out, err := execute(t, `{"text": {"text": "fever and cough"}}`, "analyze", "--progress=false")
	require.NoError(t, err)
	require.Contains(t, out, "Drink warm fluids.")
}

func TestRulesDumpParses(t *testing.T) {
	out, err := execute(t, "", "rules")
	require.NoError(t, err)

	rules, err := config.ParseRules(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, config.DefaultRules().RuleSet, rules.RuleSet)
}

func TestTokenFromConfigFile(t *testing.T) {
	cfg := writeFile(t, "medassist.yaml", "jwt-secret-key: s3cret\nsubject: ops\n")

	out, err := execute(t, "", "token", "--config", cfg, "--ttl", "1h")
	require.NoError(t, err)

	claims, err := middleware.NewAuthMiddleware("s3cret", zap.NewNop()).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Equal(t, middleware.RoleAdmin, claims.Role)
}

func TestTokenRequiresSecret(t *testing.T) {
	_, err := execute(t, "", "token")
	require.ErrorContains(t, err, "secret is required")
}
