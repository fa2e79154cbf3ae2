package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/config"
	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/orchestrator"
)

const progressTemplate = `{{ string . "prefix" }} {{counters . }} {{bar . }} {{percent . }} {{etime . "%s elapsed"}}`

func (a *app) newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [features.json]",
		Short: "Build a report from an extracted feature bundle",
		Long: "Reads a JSON feature bundle (text, image, audio and video members) from the\n" +
			"given file or stdin and prints the diagnosis report as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return a.analyze(cmd, path)
		},
	}

	flags := cmd.Flags()
	flags.String("text", "", "complaint text, replaces the bundle's text member")
	flags.Int("frame-stride", 5, "analyze every n-th video frame")
	flags.Bool("track-tremor", false, "track landmark displacement for tremor")
	flags.Bool("progress", true, "show video frame progress on stderr")
	return cmd
}

func (a *app) analyze(cmd *cobra.Command, path string) error {
	fs, err := readFeatures(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	if text := a.v.GetString("text"); text != "" {
		fs.Text = &models.TextFeatures{Text: text}
	}

	rules, err := a.rules()
	if err != nil {
		return err
	}
	suite, err := rules.Suite(config.AnalysisConfig{
		FrameStride: a.v.GetInt("frame-stride"),
		TrackTremor: a.v.GetBool("track-tremor"),
	})
	if err != nil {
		return err
	}

	orch := orchestrator.New(suite,
		orchestrator.WithRecommender(rules.Recommender()),
		orchestrator.WithAliases(rules.Aliases),
		orchestrator.WithLogger(a.logger),
	)

	ctx := cmd.Context()
	var bar *pb.ProgressBar
	if a.v.GetBool("progress") && fs.Video != nil {
		bar = pb.ProgressBarTemplate(progressTemplate).New(0)
		bar.SetWriter(cmd.ErrOrStderr())
		bar.Set("prefix", "frames")
		bar.Start()
		ctx = orchestrator.ContextWithFrameObserver(ctx, func(done, total int) {
			bar.SetTotal(int64(total))
			bar.SetCurrent(int64(done))
		})
	}

	report, err := orch.AnalyzeFeatures(ctx, *fs)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	for m, msg := range report.ModalityErrors {
		a.logger.Warn("Modality failed", zap.String("modality", string(m)), zap.String("error", msg))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func readFeatures(stdin io.Reader, path string) (*models.FeatureSet, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open feature bundle: %w", err)
		}
		defer f.Close()
		r = f
	}

	var fs models.FeatureSet
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode feature bundle: %w", err)
	}
	return &fs, nil
}
