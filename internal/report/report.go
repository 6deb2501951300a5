// Package report renders analyses, comparisons and ledger runs for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/phi-regress/internal/model"
)

// MaxClusterRows caps the clusters printed under an analysis.
const MaxClusterRows = 10

// Writer renders reports to an underlying io.Writer.
type Writer struct {
	out io.Writer
	p   *message.Printer
}

// New returns a Writer that formats numbers for English output.
func New(out io.Writer) *Writer {
	return &Writer{out: out, p: message.NewPrinter(language.English)}
}

func (w *Writer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
}

// Trials writes the success/failure counts of a trial set.
func (w *Writer) Trials(label string, succeeded, failed int) {
	_, _ = w.p.Fprintf(w.out, "%s: %d succeeded, %d failed\n", label, succeeded, failed)
}

// Analysis writes the per-metric statistics of one analysis, followed by its
// largest failure clusters.
func (w *Writer) Analysis(label string, a model.Analysis) {
	w.Trials(label, a.Succeeded, a.Failed)

	tw := w.table()
	_, _ = fmt.Fprintln(tw, "METRIC\tN\tMEAN\tSTDDEV\tMIN\tMAX\tCI")
	_, _ = fmt.Fprintln(tw, "------\t-\t----\t------\t---\t---\t--")
	for _, m := range model.Metrics {
		s, ok := a.Stats[m]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t[%.2f, %.2f]\n",
			m, s.N, s.Mean, s.StdDev, s.Min, s.Max, s.CI.Lower, s.CI.Upper)
	}
	_ = tw.Flush()

	w.Clusters(a.TotalFailures, a.Clusters, MaxClusterRows)
}

// Clusters writes up to limit clusters. A non-positive limit prints all.
func (w *Writer) Clusters(total int, clusters []model.Cluster, limit int) {
	_, _ = w.p.Fprintf(w.out, "\nFailures: %d in %d clusters\n", total, len(clusters))
	if len(clusters) == 0 {
		return
	}
	if limit > 0 && len(clusters) > limit {
		clusters = clusters[:limit]
	}

	tw := w.table()
	_, _ = fmt.Fprintln(tw, "COUNT\tTYPE\tROOT_CAUSE\tSUB_CATEGORY\tCONFIDENCE\tEXAMPLES")
	for _, c := range clusters {
		_, _ = w.p.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			c.Count, c.Type, c.RootCause, c.SubCategory, c.AvgConfidence(), examples(c.Examples))
	}
	_ = tw.Flush()
}

// Recommendations writes remediation hints in priority order.
func (w *Writer) Recommendations(recs []model.Recommendation) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(w.out, "\nNo recommendations.")
		return
	}
	_, _ = fmt.Fprintln(w.out, "\nRecommendations:")
	for i, r := range recs {
		_, _ = w.p.Fprintf(w.out, "%2d. [%s] %s (%s, %d failures)\n",
			i+1, r.Priority, r.Action, r.TargetArea, r.Count)
		_, _ = fmt.Fprintf(w.out, "    %s / %s", r.Cluster.Type, r.Cluster.RootCause)
		if r.Cluster.SubCategory != "" {
			_, _ = fmt.Fprintf(w.out, " / %s", r.Cluster.SubCategory)
		}
		_, _ = fmt.Fprintln(w.out)
		if len(r.Examples) > 0 {
			_, _ = fmt.Fprintf(w.out, "    e.g. %s\n", examples(r.Examples))
		}
	}
}

// Comparison writes the per-metric verdict table and the overall decision.
func (w *Writer) Comparison(c model.Comparison) {
	_, _ = fmt.Fprintf(w.out, "\nBaseline n=%d, experimental n=%d\n", c.BaselineN, c.ExperimentalN)

	tw := w.table()
	_, _ = fmt.Fprintln(tw, "METRIC\tBASELINE\tEXPERIMENTAL\tDIFF\tT\tP\tD\tEFFECT\tDIRECTION\tSIGNIFICANT")
	_, _ = fmt.Fprintln(tw, "------\t--------\t------------\t----\t-\t-\t-\t------\t---------\t-----------")
	for _, v := range c.Verdicts {
		_, _ = fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%+.2f\t%s\t%.4f\t%.2f\t%s\t%s\t%s\n",
			v.Metric, v.BaselineMean, v.ExperimentalMean, v.Difference,
			formatT(float64(v.TStatistic)), v.PValue, v.EffectSize, v.Magnitude,
			v.Direction, yesNo(v.Significant))
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintf(w.out, "\nRecommendation: %s\n", c.Recommendation)
	for _, r := range c.Reasons {
		_, _ = fmt.Fprintf(w.out, "  - %s\n", r)
	}
}

// Runs writes a tabular list of ledger runs.
func (w *Writer) Runs(runs []model.Run) {
	tw := w.table()
	_, _ = fmt.Fprintln(tw, "ID\tCOMMAND\tSTATUS\tTRIALS\tRESULT\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(tw, "--\t-------\t------\t------\t------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		result := ""
		trials := "-"
		if r.Summary != nil {
			result = string(r.Summary.Recommendation)
			trials = fmt.Sprintf("%d/%d", r.Summary.Succeeded, r.Summary.Succeeded+r.Summary.Failed)
		}
		if r.Status == model.RunStatusFailed {
			result = truncate(r.Error, 30)
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			TruncateID(r.ID),
			r.Command,
			r.Status,
			trials,
			result,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = tw.Flush()
}

// TruncateID returns the first 8 characters of a UUID for compact display.
func TruncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatT(t float64) string {
	switch {
	case math.IsInf(t, 1):
		return "+Inf"
	case math.IsInf(t, -1):
		return "-Inf"
	}
	return fmt.Sprintf("%.3f", t)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func examples(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", truncate(v, 24))
	}
	return strings.Join(quoted, ", ")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
