package validation

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/dop251/goja/parser"
)

// Recommendation is the validator's verdict on running a script.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendBlocked Recommendation = "blocked"
)

// Complexity buckets for the structural estimate.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// Result is the outcome of static analysis. Identical input always
// produces an identical Result.
type Result struct {
	IsSafe              bool           `json:"is_safe"`
	RiskFlags           []string       `json:"risk_flags"`
	EstimatedComplexity string         `json:"estimated_complexity"`
	Recommendation      Recommendation `json:"recommendation"`
	DetectedOperations  []string       `json:"detected_operations"`
}

// Validator statically classifies submitted scripts. It never executes
// them; the worker session's process boundary is the actual containment.
type Validator struct {
	policy    Policy
	forbidden []*regexp.Regexp
	dangerous []*regexp.Regexp
}

var (
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(`)
	entryPointRe    = regexp.MustCompile(`(?m)(^|[\s;{}])(async\s+)?function\s+main\s*\(`)
	infiniteLoopRe  = regexp.MustCompile(`while\s*\(\s*(true|1)\s*\)`)
	largeLoopRe     = regexp.MustCompile(`for\s*\([^)]*<\s*\d{4,}`)
	branchRe        = regexp.MustCompile(`\b(if|else|switch|case)\b|\?`)
	loopRe          = regexp.MustCompile(`\b(for|while|do)\b`)
	funcRe          = regexp.MustCompile(`\bfunction\b|=>`)

	// Page operation categories, mirroring what the session API exposes.
	operationRes = map[string]*regexp.Regexp{
		"navigation":  regexp.MustCompile(`\bpage\s*\.\s*(goto|back|forward|reload)\s*\(`),
		"interaction": regexp.MustCompile(`\bpage\s*\.\s*(click|fill|press|check|select)\s*\(`),
		"extraction":  regexp.MustCompile(`\bpage\s*\.\s*(text|html|content|attr|title|url)\s*\(`),
		"capture":     regexp.MustCompile(`\bpage\s*\.\s*screenshot\s*\(`),
		"waiting":     regexp.MustCompile(`\bpage\s*\.\s*wait\s*\(`),
	}
)

// New creates a validator for the given policy.
func New(policy Policy) (*Validator, error) {
	v := &Validator{policy: policy}

	for _, ident := range policy.ForbiddenIdentifiers {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(ident) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("forbidden identifier %q: %w", ident, err)
		}
		v.forbidden = append(v.forbidden, re)
	}
	for _, pattern := range policy.DangerousPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("dangerous pattern %q: %w", pattern, err)
		}
		v.dangerous = append(v.dangerous, re)
	}
	return v, nil
}

// MustNew is New for compiled-in policies known to be valid.
func MustNew(policy Policy) *Validator {
	v, err := New(policy)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate statically analyzes a script. Fails closed: anything the
// parser cannot understand is blocked.
func (v *Validator) Validate(script string) Result {
	result := Result{
		IsSafe:              true,
		RiskFlags:           []string{},
		EstimatedComplexity: ComplexityLow,
		DetectedOperations:  []string{},
	}

	if len(script) > v.policy.MaxScriptSize {
		result.IsSafe = false
		result.RiskFlags = append(result.RiskFlags,
			fmt.Sprintf("script_too_large:%d", len(script)))
		result.Recommendation = RecommendBlocked
		return result
	}

	if _, err := parser.ParseFile(nil, "", script, 0); err != nil {
		result.IsSafe = false
		result.RiskFlags = append(result.RiskFlags, "parse_error")
		result.EstimatedComplexity = ComplexityHigh
		result.Recommendation = RecommendBlocked
		return result
	}

	// Denylisted capabilities: any match blocks regardless of the rest.
	for i, re := range v.forbidden {
		if re.MatchString(script) {
			result.IsSafe = false
			result.RiskFlags = append(result.RiskFlags,
				"forbidden_capability:"+v.policy.ForbiddenIdentifiers[i])
		}
	}
	if dynamicImportRe.MatchString(script) {
		result.IsSafe = false
		result.RiskFlags = append(result.RiskFlags, "forbidden_capability:dynamic_import")
	}

	// Dangerous calls flag risk without forcing a block.
	for i, re := range v.dangerous {
		if re.MatchString(script) {
			result.RiskFlags = append(result.RiskFlags,
				"dangerous_pattern:"+v.policy.DangerousPatterns[i])
		}
	}

	entries := entryPointRe.FindAllStringIndex(script, -1)
	switch len(entries) {
	case 0:
		result.IsSafe = false
		result.RiskFlags = append(result.RiskFlags, "missing_entry_point")
	case 1:
		// exactly one main(), as required
	default:
		result.IsSafe = false
		result.RiskFlags = append(result.RiskFlags, "duplicate_entry_point")
	}

	if infiniteLoopRe.MatchString(script) {
		result.RiskFlags = append(result.RiskFlags, "potential_infinite_loop")
	}
	if largeLoopRe.MatchString(script) {
		result.RiskFlags = append(result.RiskFlags, "large_loop_bound")
	}

	result.EstimatedComplexity = estimateComplexity(script)
	result.DetectedOperations = detectOperations(script)
	result.Recommendation = recommend(result)
	return result
}

func estimateComplexity(script string) string {
	branches := len(branchRe.FindAllStringIndex(script, -1))
	loops := len(loopRe.FindAllStringIndex(script, -1))
	funcs := len(funcRe.FindAllStringIndex(script, -1))

	switch {
	case branches+loops+funcs > 40 || loops > 10 || funcs > 8:
		return ComplexityHigh
	case branches+loops+funcs > 15 || loops > 5 || funcs > 3:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

func detectOperations(script string) []string {
	ops := []string{}
	for name, re := range operationRes {
		if re.MatchString(script) {
			ops = append(ops, name)
		}
	}
	sort.Strings(ops)
	return ops
}

func recommend(r Result) Recommendation {
	if !r.IsSafe {
		return RecommendBlocked
	}
	if len(r.RiskFlags) > 0 || r.EstimatedComplexity == ComplexityHigh {
		return RecommendReview
	}
	return RecommendApprove
}
