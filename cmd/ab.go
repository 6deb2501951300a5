package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phi-regress/internal/compare"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/report"
)

var abCmd = &cobra.Command{
	Use:   "ab <ENV_VAR> <A> <B>",
	Short: "Compare two engine configurations that differ by one environment variable",
	Long: "Runs the same seeds twice, once with ENV_VAR=A (baseline arm) and once with " +
		"ENV_VAR=B (experimental arm), then compares the two arms.",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return eris.New("ab: ENV_VAR must not be empty")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx, "ab", cfg.Trials.Count)
		if err != nil {
			return err
		}
		return runAB(ctx, s, args[0], args[1], args[2])
	},
}

func init() {
	rootCmd.AddCommand(abCmd)
}

func runAB(ctx context.Context, s *session, envVar, valueA, valueB string) (err error) {
	arms := map[model.Arm]model.TrialSet{}
	analyses := map[model.Arm]model.Analysis{}
	var cmp *model.Comparison
	defer func() { err = s.finish(ctx, err, arms, analyses, cmp) }()

	labelA := fmt.Sprintf("%s=%s", envVar, valueA)
	labelB := fmt.Sprintf("%s=%s", envVar, valueB)

	setA, a, err := s.analyzeArm(ctx, model.ArmBaseline, map[string]string{envVar: valueA})
	arms[model.ArmBaseline] = setA
	if err != nil {
		return eris.Wrapf(err, "ab: %s", labelA)
	}
	analyses[model.ArmBaseline] = a

	setB, b, err := s.analyzeArm(ctx, model.ArmExperimental, map[string]string{envVar: valueB})
	arms[model.ArmExperimental] = setB
	if err != nil {
		return eris.Wrapf(err, "ab: %s", labelB)
	}
	analyses[model.ArmExperimental] = b

	c := compare.Analyses(a, b, s.policy)
	cmp = &c

	s.out.Analysis(labelA, a)
	_, _ = fmt.Fprintln(stdout)
	s.out.Analysis(labelB, b)
	s.out.Comparison(c)

	return s.export(report.Workbook{
		Analyses: []report.LabeledAnalysis{
			{Label: labelA, Analysis: a},
			{Label: labelB, Analysis: b},
		},
		Comparison: cmp,
	})
}
