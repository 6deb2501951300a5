package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/report"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Run trials and persist the results as the new baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx, "baseline", cfg.Trials.Count)
		if err != nil {
			return err
		}
		return runBaseline(ctx, s)
	},
}

func init() {
	rootCmd.AddCommand(baselineCmd)
}

func runBaseline(ctx context.Context, s *session) (err error) {
	arms := map[model.Arm]model.TrialSet{}
	analyses := map[model.Arm]model.Analysis{}
	defer func() { err = s.finish(ctx, err, arms, analyses, nil) }()

	set, a, err := s.analyzeArm(ctx, model.ArmBaseline, nil)
	arms[model.ArmBaseline] = set
	if err != nil {
		return err
	}
	analyses[model.ArmBaseline] = a

	snap := model.BaselineSnapshot{
		Timestamp: time.Now().UTC(),
		Config:    s.settings(nil),
		Analysis:  a,
	}
	if err := s.baselines.Save(snap); err != nil {
		return err
	}
	zap.L().Info("baseline saved", zap.String("path", s.baselines.Path()))

	s.out.Analysis("baseline", a)
	s.out.Recommendations(a.Recommendations)
	_, _ = fmt.Fprintf(stdout, "\nBaseline saved to %s\n", s.baselines.Path())

	return s.export(report.Workbook{Analyses: []report.LabeledAnalysis{{Label: "baseline", Analysis: a}}})
}
