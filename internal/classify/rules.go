package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/phi-regress/internal/model"
)

// Family groups PHI type tags that share classification rules.
type Family string

const (
	FamilyAny          Family = ""
	FamilyName         Family = "NAME"
	FamilyDate         Family = "DATE"
	FamilyAddress      Family = "ADDRESS"
	FamilyAge          Family = "AGE"
	FamilySSN          Family = "SSN"
	FamilyLicensePlate Family = "LICENSE_PLATE"
)

// FamilyOf maps an engine type tag (e.g. "PATIENT_NAME", "dob") to a family.
func FamilyOf(phiType string) Family {
	t := strings.ToUpper(strings.TrimSpace(phiType))
	switch {
	case strings.Contains(t, "NAME"):
		return FamilyName
	case strings.Contains(t, "DATE"), t == "DOB":
		return FamilyDate
	case strings.Contains(t, "ADDRESS"), strings.Contains(t, "STREET"):
		return FamilyAddress
	case strings.Contains(t, "AGE"):
		return FamilyAge
	case strings.Contains(t, "SSN"), strings.Contains(t, "SOCIAL"):
		return FamilySSN
	case strings.Contains(t, "PLATE"), strings.Contains(t, "VEHICLE"):
		return FamilyLicensePlate
	}
	return Family(t)
}

// Rule is one step of the type-specific cascade.
type Rule struct {
	ID          string
	Family      Family
	Match       func(value string) bool
	RootCause   model.RootCause
	SubCategory string
	Confidence  float64
}

// Signal is one OCR-corruption signature.
type Signal struct {
	SubCategory string
	Match       func(value string) bool
}

var (
	// A standalone run of digit groups split by whitespace, e.g. "123-45 6789".
	// Groups start and end with a digit so "2nd" or "Jan. 5" never qualify.
	reSpacedNumberRun  = regexp.MustCompile(`(?:^|\W)(\d(?:[\d\-/.]*\d)?(?:\s+\d(?:[\d\-/.]*\d)?)+)(?:$|\W)`)
	reNumericSeparator = regexp.MustCompile(`[-/.]`)
	reConfusablePair   = regexp.MustCompile(`0O|O0|l1|1l|1I|I1|\|\||!!`)
	reSymbolNoise      = regexp.MustCompile("[A-Za-z0-9][~^`*¦§°][A-Za-z0-9]")
	reSpaceBeforePunct = regexp.MustCompile(`\s[,.;:]`)
	reSpaceNearDateSep = regexp.MustCompile(`\d[/-]\s|\s[/-]\d`)
	reLastFirst        = regexp.MustCompile(`^[^,]+,\s*[^,]+$`)
	reProfessional     = regexp.MustCompile(`(?i)(^|\s)(md|phd|rn|dds|do|np|pa-c|jr|sr|ii|iii|iv|esq)\.?$`)
	reDigit            = regexp.MustCompile(`\d`)
	reTextualMonth     = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\b`)
	reTwoDigitYear     = regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{2}$`)
	reISODate          = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reDotDate          = regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{2,4}$`)
	reNumericDate      = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})$`)
	rePOBox            = regexp.MustCompile(`(?i)p\.?\s*o\.?\s*box`)
	reUnitDesignator   = regexp.MustCompile(`(?i)(\b(apt|suite|ste|unit)\b|#\s*\d)`)
	reStartsWithNumber = regexp.MustCompile(`^\s*\d`)
	reAgeNumber        = regexp.MustCompile(`\d+`)
	reSSNNoDashes      = regexp.MustCompile(`^\d{9}$`)
	reSSNSpaces        = regexp.MustCompile(`^\d{3}\s\d{2}\s\d{4}$`)
	reSSNMasked        = regexp.MustCompile(`(?i)x{3}|\*{3}`)
	reSSNArea          = regexp.MustCompile(`^(\d{3})[-\s]?\d{2}[-\s]?\d{4}$`)
)

// OCRSignals are checked before any type-specific rule, in order. The first
// signal that fires names the sub-category.
var OCRSignals = []Signal{
	{SubCategory: "SPACE_IN_NUMBER", Match: isSpaceInNumber},
	{SubCategory: "CHAR_DOUBLING", Match: reConfusablePair.MatchString},
	{SubCategory: "SYMBOL_NOISE", Match: reSymbolNoise.MatchString},
	{SubCategory: "SPACE_NEAR_PUNCTUATION", Match: func(v string) bool {
		return reSpaceBeforePunct.MatchString(v) || reSpaceNearDateSep.MatchString(v)
	}},
}

// DefaultRules is the type-specific cascade. Order matters: the first
// matching rule for a family wins.
var DefaultRules = []Rule{
	// Names
	{ID: "name.last_first", Family: FamilyName, Match: reLastFirst.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "LAST_FIRST", Confidence: 0.85},
	{ID: "name.all_caps", Family: FamilyName, Match: isAllCaps,
		RootCause: model.RootCauseFormatVariation, SubCategory: "ALL_CAPS", Confidence: 0.8},
	{ID: "name.apostrophe_hyphen", Family: FamilyName, Match: func(v string) bool {
		return strings.ContainsRune(v, '\'') && strings.ContainsRune(v, '-')
	}, RootCause: model.RootCauseSpecialCharacters, SubCategory: "APOSTROPHE_HYPHEN", Confidence: 0.9},
	{ID: "name.apostrophe", Family: FamilyName, Match: func(v string) bool {
		return strings.ContainsAny(v, "'’")
	}, RootCause: model.RootCauseSpecialCharacters, SubCategory: "APOSTROPHE", Confidence: 0.85},
	{ID: "name.hyphenated", Family: FamilyName, Match: func(v string) bool {
		return strings.ContainsRune(v, '-')
	}, RootCause: model.RootCauseSpecialCharacters, SubCategory: "HYPHENATED", Confidence: 0.85},
	{ID: "name.professional_suffix", Family: FamilyName, Match: reProfessional.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "PROFESSIONAL_SUFFIX", Confidence: 0.75},
	{ID: "name.multi_part", Family: FamilyName, Match: func(v string) bool {
		return len(strings.Fields(v)) >= 3
	}, RootCause: model.RootCauseFormatVariation, SubCategory: "MULTI_PART_NAME", Confidence: 0.7},
	{ID: "name.digit", Family: FamilyName, Match: reDigit.MatchString,
		RootCause: model.RootCauseOCRCorruption, SubCategory: "DIGIT_IN_NAME", Confidence: 0.8},

	// Dates
	{ID: "date.invalid", Family: FamilyDate, Match: isImpossibleDate,
		RootCause: model.RootCauseDataGenerationBug, SubCategory: "INVALID_DATE", Confidence: 0.85},
	{ID: "date.textual_month", Family: FamilyDate, Match: reTextualMonth.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "TEXTUAL_MONTH", Confidence: 0.8},
	{ID: "date.two_digit_year", Family: FamilyDate, Match: reTwoDigitYear.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "TWO_DIGIT_YEAR", Confidence: 0.8},
	{ID: "date.iso", Family: FamilyDate, Match: reISODate.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "ISO_DATE", Confidence: 0.75},
	{ID: "date.dot_separated", Family: FamilyDate, Match: reDotDate.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "DOT_SEPARATED", Confidence: 0.7},

	// Addresses
	{ID: "address.po_box", Family: FamilyAddress, Match: rePOBox.MatchString,
		RootCause: model.RootCausePatternMissing, SubCategory: "PO_BOX", Confidence: 0.8},
	{ID: "address.unit", Family: FamilyAddress, Match: reUnitDesignator.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "UNIT_DESIGNATOR", Confidence: 0.75},
	{ID: "address.no_street_number", Family: FamilyAddress, Match: func(v string) bool {
		return !reStartsWithNumber.MatchString(v)
	}, RootCause: model.RootCausePatternMissing, SubCategory: "NO_STREET_NUMBER", Confidence: 0.7},

	// Ages: only ages over 89 are identifiers, so a missed lower age is a labelling bug.
	{ID: "age.below_threshold", Family: FamilyAge, Match: func(v string) bool {
		age, ok := parseAge(v)
		return ok && age <= 89
	}, RootCause: model.RootCauseDataGenerationBug, SubCategory: "AGE_BELOW_THRESHOLD", Confidence: 0.9},
	{ID: "age.over_89", Family: FamilyAge, Match: func(v string) bool {
		age, ok := parseAge(v)
		return ok && age > 89
	}, RootCause: model.RootCausePatternMissing, SubCategory: "AGE_OVER_89", Confidence: 0.75},

	// SSNs
	{ID: "ssn.invalid", Family: FamilySSN, Match: isInvalidSSN,
		RootCause: model.RootCauseDataGenerationBug, SubCategory: "INVALID_SSN", Confidence: 0.85},
	{ID: "ssn.no_dashes", Family: FamilySSN, Match: reSSNNoDashes.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "NO_DASHES", Confidence: 0.8},
	{ID: "ssn.space_separated", Family: FamilySSN, Match: reSSNSpaces.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "SPACE_SEPARATED", Confidence: 0.8},
	{ID: "ssn.partial_mask", Family: FamilySSN, Match: reSSNMasked.MatchString,
		RootCause: model.RootCauseFormatVariation, SubCategory: "PARTIAL_MASK", Confidence: 0.75},

	// License plates
	{ID: "plate.sentinel", Family: FamilyLicensePlate, Match: isSentinel,
		RootCause: model.RootCauseDataGenerationBug, SubCategory: "SENTINEL_VALUE", Confidence: 0.9},
}

func isAllCaps(v string) bool {
	letters := 0
	for _, r := range v {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 1
}

// isSpaceInNumber reports whether whitespace splits a single separated
// number, which only the engine's OCR input produces.
func isSpaceInNumber(v string) bool {
	for _, m := range reSpacedNumberRun.FindAllStringSubmatch(v, -1) {
		if reNumericSeparator.MatchString(m[1]) {
			return true
		}
	}
	return false
}

// isImpossibleDate reports numeric M/D/Y or ISO Y-M-D values that name no
// calendar day, e.g. 13/45/2020 or 2020-02-31.
func isImpossibleDate(v string) bool {
	v = strings.TrimSpace(v)
	var year, month, day int
	if m := reNumericDate.FindStringSubmatch(v); m != nil {
		month, _ = strconv.Atoi(m[1])
		day, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
	} else if m := reISODate.FindStringSubmatch(v); m != nil {
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		day, _ = strconv.Atoi(m[3])
	} else {
		return false
	}
	if month < 1 || month > 12 || day < 1 {
		return true
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() != day
}

func parseAge(v string) (int, bool) {
	m := reAgeNumber.FindString(v)
	if m == "" {
		return 0, false
	}
	age, err := strconv.Atoi(m)
	return age, err == nil
}

func isInvalidSSN(v string) bool {
	m := reSSNArea.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return false
	}
	area := m[1]
	return area == "000" || area == "666" || area[0] == '9'
}

var sentinels = map[string]bool{
	"":          true,
	"N/A":       true,
	"NA":        true,
	"NONE":      true,
	"NULL":      true,
	"UNDEFINED": true,
	"UNKNOWN":   true,
	"XXXXXXX":   true,
}

func isSentinel(v string) bool {
	return sentinels[strings.ToUpper(strings.TrimSpace(v))]
}
