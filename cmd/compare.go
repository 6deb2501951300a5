package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phi-regress/internal/baseline"
	"github.com/sells-group/phi-regress/internal/compare"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/report"
)

var compareSave bool

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run trials and compare them against the saved baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Fail before spending any trials when there is nothing to compare to.
		snap, err := loadBaseline(baseline.NewStore(cfg.Baseline.Dir))
		if err != nil {
			return err
		}

		s, err := newSession(ctx, "compare", cfg.Trials.Count)
		if err != nil {
			return err
		}
		return runCompare(ctx, s, snap)
	},
}

func init() {
	compareCmd.Flags().BoolVar(&compareSave, "save", false, "write the comparison artifact next to the baseline")
	rootCmd.AddCommand(compareCmd)
}

func loadBaseline(bs *baseline.Store) (model.BaselineSnapshot, error) {
	snap, err := bs.Load()
	if eris.Is(err, baseline.ErrNotFound) {
		return snap, eris.Wrapf(err, "no baseline at %s; run `phi-regress baseline` first", bs.Path())
	}
	return snap, err
}

func runCompare(ctx context.Context, s *session, snap model.BaselineSnapshot) (err error) {
	arms := map[model.Arm]model.TrialSet{}
	analyses := map[model.Arm]model.Analysis{}
	var cmp *model.Comparison
	defer func() { err = s.finish(ctx, err, arms, analyses, cmp) }()

	set, a, err := s.analyzeArm(ctx, model.ArmExperimental, nil)
	arms[model.ArmExperimental] = set
	if err != nil {
		return err
	}
	analyses[model.ArmExperimental] = a

	c := compare.Analyses(snap.Analysis, a, s.policy)
	cmp = &c

	_, _ = fmt.Fprintf(stdout, "Baseline from %s (%d trials)\n",
		snap.Timestamp.Format(time.RFC3339), snap.Analysis.Succeeded)
	s.out.Analysis("experimental", a)
	s.out.Comparison(c)

	if compareSave {
		path, err := s.baselines.SaveComparison(model.ComparisonArtifact{
			Timestamp:  time.Now().UTC(),
			Baseline:   snap,
			Config:     s.settings(nil),
			Analysis:   a,
			Comparison: c,
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "\nComparison saved to %s\n", path)
	}

	return s.export(report.Workbook{
		Analyses: []report.LabeledAnalysis{
			{Label: "baseline", Analysis: snap.Analysis},
			{Label: "experimental", Analysis: a},
		},
		Comparison: cmp,
	})
}
