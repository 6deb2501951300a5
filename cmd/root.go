package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/phi-regress/internal/config"
)

var cfg *config.Config

var (
	serialMode  bool
	trialCount  int
	docCount    int
	xlsxPath    string
	weightsPath string
)

var rootCmd = &cobra.Command{
	Use:   "phi-regress",
	Short: "Statistical regression testing for the PHI redaction engine",
	Long: "Runs the redaction engine as a subprocess over seeded synthetic corpora, " +
		"reports detection-quality statistics, diagnoses missed detections and " +
		"decides whether a change is a significant improvement or regression.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyFlagOverrides(cmd, c)
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyFlagOverrides copies explicitly set persistent flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("trials") {
		c.Trials.Count = trialCount
	}
	if flags.Changed("documents") {
		c.Trials.Documents = docCount
	}
	if flags.Changed("weights") {
		c.Classifier.WeightsFile = weightsPath
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&serialMode, "serial", false, "run trials one at a time (pool size 1)")
	pf.IntVar(&trialCount, "trials", 5, "number of trials per arm")
	pf.IntVar(&docCount, "documents", 200, "synthetic documents per trial")
	pf.StringVar(&xlsxPath, "xlsx", "", "also export the report tables to this xlsx file")
	pf.StringVar(&weightsPath, "weights", "", "classifier weights override file (yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
