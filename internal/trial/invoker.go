// Package trial runs the redaction engine once per seed and turns its
// output artifact into a TrialResult.
package trial

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phi-regress/internal/config"
	"github.com/sells-group/phi-regress/internal/model"
)

const (
	// EnvOutputDir and EnvSeed are exported to every engine process.
	EnvOutputDir = "PHI_REGRESS_OUTPUT_DIR"
	EnvSeed      = "PHI_REGRESS_SEED"

	stderrTailBytes = 512
	waitDelay       = 2 * time.Second
)

// Invoker runs a single trial. Implementations never return errors: every
// failure is captured in the result.
type Invoker interface {
	Invoke(ctx context.Context, tc model.TrialConfig) model.TrialResult
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, tc model.TrialConfig) model.TrialResult

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, tc model.TrialConfig) model.TrialResult {
	return f(ctx, tc)
}

// EngineCLI invokes the engine as a subprocess.
type EngineCLI struct {
	cfg     config.EngineConfig
	timeout time.Duration
}

// NewEngineCLI creates an EngineCLI. If ResultGlob is empty, "*.json" is used.
func NewEngineCLI(cfg config.EngineConfig) *EngineCLI {
	if cfg.ResultGlob == "" {
		cfg.ResultGlob = "*.json"
	}
	return &EngineCLI{cfg: cfg, timeout: cfg.Timeout()}
}

// Invoke runs the engine for tc and parses its artifact.
func (e *EngineCLI) Invoke(ctx context.Context, tc model.TrialConfig) model.TrialResult {
	start := time.Now()
	res := e.invoke(ctx, tc)
	res.Seed = tc.Seed
	res.Duration = time.Since(start)

	if res.Success {
		zap.L().Debug("trial: completed",
			zap.Int64("seed", tc.Seed),
			zap.Int("failures", len(res.Failures)),
			zap.Duration("duration", res.Duration),
		)
	} else {
		zap.L().Warn("trial: failed",
			zap.Int64("seed", tc.Seed),
			zap.String("error", res.Error),
			zap.Duration("duration", res.Duration),
		)
	}
	return res
}

func (e *EngineCLI) invoke(ctx context.Context, tc model.TrialConfig) model.TrialResult {
	outDir, err := os.MkdirTemp("", fmt.Sprintf("phi-regress-%d-*", tc.Seed))
	if err != nil {
		return failed(eris.Wrap(err, "trial: create output dir"))
	}
	if !e.cfg.KeepArtifacts {
		defer os.RemoveAll(outDir) //nolint:errcheck
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.Command, e.args(tc, outDir)...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = e.env(tc, outDir)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	switch {
	case ctx.Err() != nil:
		return failed(eris.Wrap(ctx.Err(), "trial: canceled"))
	case runCtx.Err() == context.DeadlineExceeded:
		return failed(eris.Errorf("trial: engine timed out after %s", e.timeout))
	}

	path, err := locateArtifact(outDir, e.cfg.ResultGlob, e.cfg.WorkDir, stdout.Bytes())
	if err != nil {
		if runErr != nil {
			return failed(eris.Wrapf(runErr, "trial: engine exited without artifact: %s", tail(stderr.Bytes())))
		}
		return failed(err)
	}
	if runErr != nil {
		zap.L().Debug("trial: engine exited non-zero with artifact",
			zap.Int64("seed", tc.Seed), zap.Error(runErr))
	}

	metrics, failures, err := parseArtifact(path)
	if err != nil {
		return failed(err)
	}

	return model.TrialResult{Success: true, Metrics: metrics, Failures: failures}
}

func (e *EngineCLI) args(tc model.TrialConfig, outDir string) []string {
	args := make([]string, 0, len(e.cfg.Args)+6)
	args = append(args, e.cfg.Args...)
	if e.cfg.SeedFlag != "" {
		args = append(args, e.cfg.SeedFlag, strconv.FormatInt(tc.Seed, 10))
	}
	if e.cfg.DocumentsFlag != "" && tc.DocumentCount > 0 {
		args = append(args, e.cfg.DocumentsFlag, strconv.Itoa(tc.DocumentCount))
	}
	if e.cfg.OutputFlag != "" {
		args = append(args, e.cfg.OutputFlag, outDir)
	}
	return args
}

// env appends overrides to the parent environment. Later entries win, so
// overrides shadow inherited values.
func (e *EngineCLI) env(tc model.TrialConfig, outDir string) []string {
	keys := make([]string, 0, len(tc.Env))
	for k := range tc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+tc.Env[k])
	}
	return append(env,
		EnvOutputDir+"="+outDir,
		EnvSeed+"="+strconv.FormatInt(tc.Seed, 10),
	)
}

func failed(err error) model.TrialResult {
	return model.TrialResult{Success: false, Error: err.Error()}
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(no stderr)"
	}
	return s
}
