package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/recommend"
)

// Rules is the deployment-specific rule file: every table the analyzers,
// the recommendation engine and the fusion step read.
type Rules struct {
	analysis.RuleSet `yaml:",inline"`
	Advisories       map[string]string `yaml:"advisories,omitempty"`
	Aliases          map[string]string `yaml:"aliases,omitempty"`
	MinConfidence    float64           `yaml:"min_confidence,omitempty"`
}

func DefaultRules() *Rules {
	return &Rules{RuleSet: analysis.DefaultRuleSet()}
}

// LoadRules returns the default rules when path is empty. Fields the file
// leaves out keep their defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	defer f.Close()
	return ParseRules(f)
}

func ParseRules(r io.Reader) (*Rules, error) {
	rules := DefaultRules()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(rules); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.RuleSet.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	if rules.MinConfidence < 0 || rules.MinConfidence > 1 {
		return nil, fmt.Errorf("invalid rules: min_confidence %g outside [0, 1]", rules.MinConfidence)
	}
	return rules, nil
}

func (r *Rules) Suite(analysisCfg AnalysisConfig) (*analysis.Suite, error) {
	return analysis.NewSuite(r.RuleSet, analysis.SuiteOptions{
		FrameStride: analysisCfg.FrameStride,
		TrackTremor: analysisCfg.TrackTremor,
	})
}

func (r *Rules) Recommender() *recommend.Engine {
	return recommend.NewEngine(recommend.Options{
		Advisories:    r.Advisories,
		MinConfidence: r.MinConfidence,
	})
}

func (r *Rules) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
