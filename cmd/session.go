package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phi-regress/internal/analysis"
	"github.com/sells-group/phi-regress/internal/baseline"
	"github.com/sells-group/phi-regress/internal/classify"
	"github.com/sells-group/phi-regress/internal/cluster"
	"github.com/sells-group/phi-regress/internal/compare"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/notify"
	"github.com/sells-group/phi-regress/internal/orchestrator"
	"github.com/sells-group/phi-regress/internal/report"
	"github.com/sells-group/phi-regress/internal/store"
	"github.com/sells-group/phi-regress/internal/trial"
)

// stdout is where reports go. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// session wires the components one command needs.
type session struct {
	command   string
	orch      *orchestrator.Orchestrator
	analyzer  *analysis.Analyzer
	policy    compare.Policy
	baselines *baseline.Store
	ledger    store.Store
	alerter   *notify.Alerter
	out       *report.Writer
	seeds     []int64
	run       *model.Run
}

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = ".phi-regress/runs.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func initClassifier() (*classify.Classifier, error) {
	opts := classify.Options{OCRBase: cfg.Classifier.OCRBase, OCRStep: cfg.Classifier.OCRStep}
	if cfg.Classifier.WeightsFile != "" {
		wf, err := classify.LoadWeights(cfg.Classifier.WeightsFile)
		if err != nil {
			return nil, err
		}
		opts = wf.Apply(opts)
	}
	return classify.New(opts), nil
}

// newSession builds the components for command. trials is the number of
// trials per arm.
func newSession(ctx context.Context, command string, trials int) (*session, error) {
	host, err := orchestrator.DetectHost(ctx)
	if err != nil {
		// Without host data fall back to the smallest parallel pool.
		zap.L().Warn("host detection failed", zap.Error(err))
		host = orchestrator.HostResources{CPUs: 1, MemoryBytes: 8 << 30}
	}
	poolSize := orchestrator.Resolve(cfg.Pool, serialMode, host)
	interval := time.Duration(cfg.Pool.LaunchIntervalMs) * time.Millisecond

	classifier, err := initClassifier()
	if err != nil {
		return nil, err
	}

	ledger, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	s := &session{
		command:   command,
		orch:      orchestrator.New(trial.NewEngineCLI(cfg.Engine), poolSize, interval),
		analyzer:  analysis.New(classifier, cfg.Stats.Confidence),
		policy:    compare.PolicyFromConfig(cfg.Stats),
		baselines: baseline.NewStore(cfg.Baseline.Dir),
		ledger:    ledger,
		alerter:   notify.NewAlerter(cfg.Notify),
		out:       report.New(stdout),
		seeds:     cfg.Trials.SeedList(trials),
	}

	s.run, err = ledger.CreateRun(ctx, command, s.settings(nil))
	if err != nil {
		ledger.Close() //nolint:errcheck
		return nil, err
	}

	zap.L().Info("session started",
		zap.String("command", command),
		zap.String("run_id", s.run.ID),
		zap.Int("trials", trials),
		zap.Int("pool_size", poolSize),
	)
	return s, nil
}

func (s *session) settings(env map[string]string) model.RunSettings {
	return model.RunSettings{
		Trials:        len(s.seeds),
		DocumentCount: cfg.Trials.Documents,
		PoolSize:      s.orch.PoolSize(),
		Seeds:         s.seeds,
		Env:           env,
		Confidence:    cfg.Stats.Confidence,
		CriticalMode:  cfg.Stats.CriticalMode,
	}
}

// runArm executes one arm's trials and records them in the ledger.
func (s *session) runArm(ctx context.Context, arm model.Arm, env map[string]string) (model.TrialSet, error) {
	zap.L().Info("running arm",
		zap.String("arm", string(arm)),
		zap.Int("trials", len(s.seeds)),
		zap.Any("env", env),
	)

	set, err := s.orch.Run(ctx, orchestrator.Plan(s.seeds, cfg.Trials.Documents, env))
	if recErr := s.ledger.AddTrials(ctx, model.TrialsForRun(s.run.ID, arm, set)); recErr != nil {
		zap.L().Warn("record trials failed", zap.String("run_id", s.run.ID), zap.Error(recErr))
	}
	return set, err
}

// analyzeArm runs an arm and reduces it to an Analysis.
func (s *session) analyzeArm(ctx context.Context, arm model.Arm, env map[string]string) (model.TrialSet, model.Analysis, error) {
	set, err := s.runArm(ctx, arm, env)
	if err != nil {
		return set, model.Analysis{}, err
	}
	a, err := s.analyzer.Analyze(set)
	if err != nil {
		return set, a, eris.Wrapf(err, "%s arm", arm)
	}
	return set, a, nil
}

// finish marks the ledger run complete or failed, sends notifications, and
// closes the ledger. It returns err unchanged.
func (s *session) finish(ctx context.Context, err error, arms map[model.Arm]model.TrialSet, analyses map[model.Arm]model.Analysis, cmp *model.Comparison) error {
	defer s.ledger.Close() //nolint:errcheck

	// A canceled command still records its outcome.
	recCtx := context.WithoutCancel(ctx)
	if err != nil {
		if ferr := s.ledger.FailRun(recCtx, s.run.ID, err.Error()); ferr != nil {
			zap.L().Warn("mark run failed", zap.Error(ferr))
		}
	} else if cerr := s.ledger.CompleteRun(recCtx, s.run.ID, summarize(arms, analyses, cmp)); cerr != nil {
		zap.L().Warn("mark run complete", zap.Error(cerr))
	}

	if len(arms) > 0 {
		s.alerter.Notify(recCtx, notify.Outcome{
			Command:    s.command,
			RunID:      s.run.ID,
			Arms:       arms,
			Comparison: cmp,
		})
	}
	return err
}

// export writes the xlsx workbook when --xlsx is set.
func (s *session) export(wb report.Workbook) error {
	if xlsxPath == "" {
		return nil
	}
	if err := report.ExportXLSX(xlsxPath, wb); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "\nExported %s\n", xlsxPath)
	return nil
}

func summarize(arms map[model.Arm]model.TrialSet, analyses map[model.Arm]model.Analysis, cmp *model.Comparison) *model.RunSummary {
	sum := &model.RunSummary{
		Arms:      make(map[model.Arm]model.ArmSummary, len(arms)),
		TopCauses: map[model.RootCause]int{},
	}
	for arm, set := range arms {
		sum.Succeeded += set.Succeeded
		sum.Failed += set.Failed

		as := model.ArmSummary{Succeeded: set.Succeeded, Failed: set.Failed}
		if a, ok := analyses[arm]; ok {
			if len(a.Stats) > 0 {
				as.Means = make(map[model.Metric]float64, len(a.Stats))
				for m, st := range a.Stats {
					as.Means[m] = st.Mean
				}
			}
			for cause, n := range cluster.ByRootCause(a.Clusters) {
				sum.TopCauses[cause] += n
			}
		}
		sum.Arms[arm] = as
	}
	if len(arms) == 1 {
		for _, as := range sum.Arms {
			sum.Means = as.Means
		}
	}
	if cmp != nil {
		sum.Recommendation = cmp.Recommendation
	}
	return sum
}
