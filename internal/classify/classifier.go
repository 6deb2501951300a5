// Package classify assigns a root cause to every missed PHI detection using
// an ordered rule cascade.
package classify

import (
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/phi-regress/internal/model"
)

const (
	// FallbackRule is the rule id reported when nothing else matches.
	FallbackRule        = "fallback"
	fallbackSubCategory = "UNKNOWN_FORMAT"
	fallbackConfidence  = 0.5
	// minConfidence keeps overridden confidences inside (0,1].
	minConfidence = 0.01

	ocrRulePrefix = "ocr."
)

// Options tune the classifier.
type Options struct {
	OCRBase float64
	OCRStep float64
	// Weights overrides rule confidences keyed by rule id.
	Weights map[string]float64
}

// Classifier maps failure records to root causes. It holds no mutable state
// and is safe for concurrent use.
type Classifier struct {
	rules   []Rule
	signals []Signal
	ocrBase float64
	ocrStep float64
}

// New builds a classifier over DefaultRules with any weight overrides applied.
// A zero OCRBase selects the default of 0.7; overrides are clamped to (0,1].
func New(opts Options) *Classifier {
	if opts.OCRBase <= 0 {
		opts.OCRBase = 0.7
	}
	if opts.OCRStep < 0 {
		opts.OCRStep = 0
	}

	rules := make([]Rule, len(DefaultRules))
	copy(rules, DefaultRules)
	for i := range rules {
		if w, ok := opts.Weights[rules[i].ID]; ok {
			rules[i].Confidence = clampConfidence(w)
		}
	}

	return &Classifier{
		rules:   rules,
		signals: OCRSignals,
		ocrBase: clampConfidence(opts.OCRBase),
		ocrStep: opts.OCRStep,
	}
}

// Classify diagnoses a single failure. The result depends only on the record.
func (c *Classifier) Classify(rec model.FailureRecord) model.FailureClassification {
	if fc, ok := c.classifyOCR(rec.Value); ok {
		return fc
	}

	family := FamilyOf(rec.Type)
	for _, r := range c.rules {
		if r.Family != FamilyAny && r.Family != family {
			continue
		}
		if r.Match(rec.Value) {
			return model.FailureClassification{
				RootCause:   r.RootCause,
				SubCategory: r.SubCategory,
				Confidence:  r.Confidence,
				Rule:        r.ID,
			}
		}
	}

	return model.FailureClassification{
		RootCause:   model.RootCausePatternMissing,
		SubCategory: fallbackSubCategory,
		Confidence:  fallbackConfidence,
		Rule:        FallbackRule,
	}
}

// ClassifyAll classifies records in order.
func (c *Classifier) ClassifyAll(records []model.FailureRecord) []model.ClassifiedFailure {
	out := make([]model.ClassifiedFailure, 0, len(records))
	for _, rec := range records {
		out = append(out, model.ClassifiedFailure{Record: rec, Classification: c.Classify(rec)})
	}
	return out
}

func (c *Classifier) classifyOCR(value string) (model.FailureClassification, bool) {
	var first string
	matched := 0
	for _, s := range c.signals {
		if s.Match(value) {
			if matched == 0 {
				first = s.SubCategory
			}
			matched++
		}
	}
	if matched == 0 {
		return model.FailureClassification{}, false
	}
	return model.FailureClassification{
		RootCause:   model.RootCauseOCRCorruption,
		SubCategory: first,
		Confidence:  math.Min(c.ocrBase+c.ocrStep*float64(matched-1), 1),
		Rule:        ocrRulePrefix + strings.ToLower(first),
	}, true
}

// WeightsFile is the on-disk shape of a weights override file.
type WeightsFile struct {
	OCRBase *float64           `yaml:"ocr_base"`
	OCRStep *float64           `yaml:"ocr_step"`
	Rules   map[string]float64 `yaml:"rules"`
}

// LoadWeights reads a YAML weights file. Unknown rule ids and confidences
// outside (0,1] are rejected.
func LoadWeights(path string) (*WeightsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read weights %s", path)
	}

	var wf WeightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, eris.Wrap(err, "classify: parse weights")
	}

	known := make(map[string]bool, len(DefaultRules))
	for _, r := range DefaultRules {
		known[r.ID] = true
	}
	for id, w := range wf.Rules {
		if !known[id] {
			return nil, eris.Errorf("classify: unknown rule id %q in weights", id)
		}
		if !validConfidence(w) {
			return nil, eris.Errorf("classify: weight for %q must be in (0,1], got %g", id, w)
		}
	}
	if wf.OCRBase != nil && !validConfidence(*wf.OCRBase) {
		return nil, eris.Errorf("classify: ocr_base must be in (0,1], got %g", *wf.OCRBase)
	}
	if wf.OCRStep != nil && *wf.OCRStep < 0 {
		return nil, eris.Errorf("classify: ocr_step must be >= 0, got %g", *wf.OCRStep)
	}
	return &wf, nil
}

// Apply merges the file's overrides into opts.
func (wf *WeightsFile) Apply(opts Options) Options {
	if wf == nil {
		return opts
	}
	if wf.OCRBase != nil {
		opts.OCRBase = *wf.OCRBase
	}
	if wf.OCRStep != nil {
		opts.OCRStep = *wf.OCRStep
	}
	if len(wf.Rules) > 0 {
		merged := make(map[string]float64, len(opts.Weights)+len(wf.Rules))
		for k, v := range opts.Weights {
			merged[k] = v
		}
		for k, v := range wf.Rules {
			merged[k] = v
		}
		opts.Weights = merged
	}
	return opts
}

func validConfidence(v float64) bool {
	return v > 0 && v <= 1
}

func clampConfidence(v float64) float64 {
	return math.Min(math.Max(v, minConfidence), 1)
}
