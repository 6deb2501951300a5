package trial

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phi-regress/internal/model"
)

const resultFilePrefix = "RESULT_FILE="

// ErrNoArtifact is returned when the engine left no result file behind.
var ErrNoArtifact = eris.New("trial: no result artifact found")

// locateArtifact returns the newest regular file in dir matching glob, or the
// path named by the last RESULT_FILE= line on stdout.
func locateArtifact(dir, glob, workDir string, stdout []byte) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", eris.Wrapf(err, "trial: bad result glob %q", glob)
	}

	var newest string
	var newestInfo os.FileInfo
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) ||
			(info.ModTime().Equal(newestInfo.ModTime()) && m > newest) {
			newest, newestInfo = m, info
		}
	}
	if newest != "" {
		return newest, nil
	}

	if p := resultFileFromStdout(stdout); p != "" {
		if !filepath.IsAbs(p) && workDir != "" {
			p = filepath.Join(workDir, p)
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
		return "", eris.Wrapf(ErrNoArtifact, "trial: RESULT_FILE %s not readable", p)
	}
	return "", ErrNoArtifact
}

func resultFileFromStdout(stdout []byte) string {
	var path string
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, resultFilePrefix) {
			path = strings.TrimSpace(strings.TrimPrefix(line, resultFilePrefix))
		}
	}
	return path
}

type nativeMetrics struct {
	Sensitivity *float64 `json:"sensitivity"`
	Specificity *float64 `json:"specificity"`
	Precision   *float64 `json:"precision"`
	F1Score     *float64 `json:"f1Score"`
	F1          *float64 `json:"f1"`
	F2Score     *float64 `json:"f2Score"`
	F2          *float64 `json:"f2"`
}

type nativeFailure struct {
	PHIType    string `json:"phiType"`
	Type       string `json:"type"`
	Value      string `json:"value"`
	Context    string `json:"context"`
	DocumentID string `json:"documentId"`
}

type nativeArtifact struct {
	Metrics  *nativeMetrics  `json:"metrics"`
	Failures *[]nativeFailure `json:"failures"`
	Missed   *[]nativeFailure `json:"missed"`
}

// parseArtifact reads the engine's native result file.
func parseArtifact(path string) (map[model.Metric]float64, []model.FailureRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "trial: read artifact %s", path)
	}
	return decodeArtifact(data)
}

func decodeArtifact(data []byte) (map[model.Metric]float64, []model.FailureRecord, error) {
	var a nativeArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil, eris.Wrap(err, "trial: parse artifact")
	}
	if a.Metrics == nil {
		return nil, nil, eris.New("trial: artifact has no metrics")
	}

	values := map[model.Metric]*float64{
		model.MetricSensitivity: a.Metrics.Sensitivity,
		model.MetricSpecificity: a.Metrics.Specificity,
		model.MetricPrecision:   a.Metrics.Precision,
		model.MetricF1:          firstNonNil(a.Metrics.F1Score, a.Metrics.F1),
		model.MetricF2:          firstNonNil(a.Metrics.F2Score, a.Metrics.F2),
	}
	metrics := make(map[model.Metric]float64, len(values))
	var missing []string
	for _, m := range model.Metrics {
		v := values[m]
		if v == nil {
			missing = append(missing, string(m))
			continue
		}
		metrics[m] = *v
	}
	if len(missing) > 0 {
		return nil, nil, eris.Errorf("trial: artifact missing metrics: %s", strings.Join(missing, ", "))
	}

	raw := a.Failures
	if raw == nil {
		raw = a.Missed
	}
	if raw == nil {
		return nil, nil, eris.New("trial: artifact has no failures list")
	}
	failures := make([]model.FailureRecord, 0, len(*raw))
	for i, f := range *raw {
		typ := f.PHIType
		if typ == "" {
			typ = f.Type
		}
		if typ == "" || f.Value == "" {
			return nil, nil, eris.Errorf("trial: failure %d missing phiType/value", i)
		}
		failures = append(failures, model.FailureRecord{
			Type:       typ,
			Value:      f.Value,
			Context:    f.Context,
			DocumentID: f.DocumentID,
		})
	}
	return metrics, failures, nil
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
