package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/report"
)

var quickCmd = &cobra.Command{
	Use:   "quick",
	Short: "Run a single trial and diagnose its missed detections",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx, "quick", 1)
		if err != nil {
			return err
		}
		return runQuick(ctx, s)
	},
}

func init() {
	rootCmd.AddCommand(quickCmd)
}

func runQuick(ctx context.Context, s *session) (err error) {
	arms := map[model.Arm]model.TrialSet{}
	analyses := map[model.Arm]model.Analysis{}
	defer func() { err = s.finish(ctx, err, arms, analyses, nil) }()

	set, err := s.runArm(ctx, model.ArmSingle, nil)
	arms[model.ArmSingle] = set
	if err != nil {
		return err
	}
	if set.Succeeded == 0 {
		reason := "unknown error"
		if len(set.Results) > 0 {
			reason = set.Results[0].Error
		}
		return eris.Errorf("quick: trial failed: %s", reason)
	}

	d := s.analyzer.Diagnose(set)
	analyses[model.ArmSingle] = d

	s.out.Trials("quick", d.Succeeded, d.Failed)
	s.out.Clusters(d.TotalFailures, d.Clusters, 0)
	s.out.Recommendations(d.Recommendations)

	return s.export(report.Workbook{Analyses: []report.LabeledAnalysis{{Label: "quick", Analysis: d}}})
}
