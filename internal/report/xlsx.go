package report

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/phi-regress/internal/model"
)

// Workbook collects the tables exported by one command. Nil sections are
// skipped.
type Workbook struct {
	Analyses   []LabeledAnalysis
	Comparison *model.Comparison
}

// LabeledAnalysis names an analysis sheet, e.g. "baseline" or "experimental".
type LabeledAnalysis struct {
	Label    string
	Analysis model.Analysis
}

// ExportXLSX writes the workbook to path, creating parent directories.
func ExportXLSX(path string, wb Workbook) error {
	f := xlsx.NewFile()

	if len(wb.Analyses) > 0 {
		stats, err := f.AddSheet("Statistics")
		if err != nil {
			return eris.Wrap(err, "report: add statistics sheet")
		}
		addRow(stats, "Arm", "Metric", "N", "Mean", "StdDev", "Min", "Max", "CI Lower", "CI Upper")
		for _, la := range wb.Analyses {
			for _, m := range model.Metrics {
				s, ok := la.Analysis.Stats[m]
				if !ok {
					continue
				}
				row := stats.AddRow()
				row.AddCell().SetString(la.Label)
				row.AddCell().SetString(string(m))
				row.AddCell().SetInt(s.N)
				for _, v := range []float64{s.Mean, s.StdDev, s.Min, s.Max, s.CI.Lower, s.CI.Upper} {
					row.AddCell().SetFloat(v)
				}
			}
		}

		clusters, err := f.AddSheet("Clusters")
		if err != nil {
			return eris.Wrap(err, "report: add clusters sheet")
		}
		addRow(clusters, "Arm", "Type", "Root Cause", "Sub Category", "Count", "Avg Confidence", "Examples")
		for _, la := range wb.Analyses {
			for _, c := range la.Analysis.Clusters {
				row := clusters.AddRow()
				row.AddCell().SetString(la.Label)
				row.AddCell().SetString(c.Type)
				row.AddCell().SetString(string(c.RootCause))
				row.AddCell().SetString(c.SubCategory)
				row.AddCell().SetInt(c.Count)
				row.AddCell().SetFloat(c.AvgConfidence())
				row.AddCell().SetString(strings.Join(c.Examples, " | "))
			}
		}

		recs, err := f.AddSheet("Recommendations")
		if err != nil {
			return eris.Wrap(err, "report: add recommendations sheet")
		}
		addRow(recs, "Arm", "Priority", "Action", "Target Area", "Type", "Root Cause", "Count")
		for _, la := range wb.Analyses {
			for _, r := range la.Analysis.Recommendations {
				row := recs.AddRow()
				row.AddCell().SetString(la.Label)
				row.AddCell().SetString(string(r.Priority))
				row.AddCell().SetString(r.Action)
				row.AddCell().SetString(r.TargetArea)
				row.AddCell().SetString(r.Cluster.Type)
				row.AddCell().SetString(string(r.Cluster.RootCause))
				row.AddCell().SetInt(r.Count)
			}
		}
	}

	if wb.Comparison != nil {
		verdicts, err := f.AddSheet("Verdicts")
		if err != nil {
			return eris.Wrap(err, "report: add verdicts sheet")
		}
		addRow(verdicts, "Metric", "Baseline Mean", "Experimental Mean", "Difference",
			"t", "df", "p", "Critical", "Significant", "Cohen's d", "Magnitude", "Direction")
		for _, v := range wb.Comparison.Verdicts {
			row := verdicts.AddRow()
			row.AddCell().SetString(string(v.Metric))
			for _, x := range []float64{v.BaselineMean, v.ExperimentalMean, v.Difference} {
				row.AddCell().SetFloat(x)
			}
			// Infinite t values are not representable as xlsx numbers.
			row.AddCell().SetString(formatT(float64(v.TStatistic)))
			for _, x := range []float64{v.DegreesOfFreedom, v.PValue, v.CriticalValue} {
				row.AddCell().SetFloat(x)
			}
			row.AddCell().SetBool(v.Significant)
			row.AddCell().SetFloat(v.EffectSize)
			row.AddCell().SetString(v.Magnitude)
			row.AddCell().SetString(string(v.Direction))
		}
		addRow(verdicts, "Recommendation", string(wb.Comparison.Recommendation))
		for _, r := range wb.Comparison.Reasons {
			addRow(verdicts, "", r)
		}
	}

	if len(f.Sheets) == 0 {
		return eris.New("report: nothing to export")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "report: create dir %s", dir)
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
