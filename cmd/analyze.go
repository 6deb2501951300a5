package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run trials and print statistics without touching the baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx, "analyze", cfg.Trials.Count)
		if err != nil {
			return err
		}
		return runAnalyze(ctx, s)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, s *session) (err error) {
	arms := map[model.Arm]model.TrialSet{}
	analyses := map[model.Arm]model.Analysis{}
	defer func() { err = s.finish(ctx, err, arms, analyses, nil) }()

	set, a, err := s.analyzeArm(ctx, model.ArmSingle, nil)
	arms[model.ArmSingle] = set
	if err != nil {
		return err
	}
	analyses[model.ArmSingle] = a

	s.out.Analysis("analyze", a)
	s.out.Recommendations(a.Recommendations)

	return s.export(report.Workbook{Analyses: []report.LabeledAnalysis{{Label: "analyze", Analysis: a}}})
}
