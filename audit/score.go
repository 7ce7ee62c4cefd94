package audit

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/donlaur/Engify-AI-App-sub000/audit/extract"
	"github.com/donlaur/Engify-AI-App-sub000/types"
)

// Policy holds the scoring weights, bonuses, and the remediation threshold.
// Weights sum to 1.0 so the weighted score stays on the 0-10 scale.
type Policy struct {
	Weights   map[string]float64 `yaml:"weights"`
	Threshold float64            `yaml:"threshold"`

	// Bonuses reward state the rubric tends to undervalue. The final score
	// is capped at 10 after bonuses.
	MandatoryBonus  float64 `yaml:"mandatory_bonus"`
	EnrichmentBonus float64 `yaml:"enrichment_bonus"`
	LongBodyBonus   float64 `yaml:"long_body_bonus"`

	MinBodyLen  int `yaml:"min_body_len"`
	LongBodyLen int `yaml:"long_body_len"`
}

func DefaultPolicy() Policy {
	return Policy{
		Weights: map[string]float64{
			CategoryCompleteness: 0.30,
			CategoryUsefulness:   0.25,
			CategorySEO:          0.20,
			CategoryExemplars:    0.10,
			CategoryClarity:      0.05,
			CategorySpecificity:  0.05,
			CategoryStructure:    0.03,
			CategoryTone:         0.02,
		},
		Threshold:       5.0,
		MandatoryBonus:  0.25,
		EnrichmentBonus: 0.5,
		LongBodyBonus:   0.25,
		MinBodyLen:      100,
		LongBodyLen:     1200,
	}
}

// agentOutput is one reviewer's result as seen by the scorer.
type agentOutput struct {
	agent Agent
	raw   string
	// failed marks a reviewer that produced no usable response at all.
	failed bool
}

// scoreRe finds the first number following the word "score" in free text.
// Reviewers are told to write "score: N" but rarely all comply.
var scoreRe = regexp.MustCompile(`(?i)score\D{0,20}?(\d+(?:\.\d+)?)`)

// specializedScore mines a single 0-10 score out of a free-text review.
func specializedScore(raw string) (float64, bool) {
	m := scoreRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return clampScore(v), true
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// rubricResult is the parsed structured reviewer output.
type rubricResult struct {
	scores          map[string]float64
	issues          []string
	recommendations []string
	missingElements []string
	ok              bool
}

// parseRubric accepts both the nested {"cat": {"score": N}} shape the prompt
// asks for and the flat {"cat": N} shape models sometimes produce instead.
// When no JSON survives repair it falls back to mining "category: N" pairs
// out of the raw text.
func parseRubric(raw string, weights map[string]float64) rubricResult {
	obj, ok := extract.Object(raw)
	if !ok {
		return parseRubricText(raw, weights)
	}

	res := rubricResult{scores: make(map[string]float64, len(weights)), ok: true}
	for cat := range weights {
		switch v := obj[cat].(type) {
		case map[string]any:
			if s, ok := v["score"].(float64); ok {
				res.scores[cat] = clampScore(s)
			}
		case float64:
			res.scores[cat] = clampScore(v)
		}
	}
	res.issues = stringList(obj["issues"])
	res.recommendations = stringList(obj["recommendations"])
	res.missingElements = stringList(obj["missing_elements"])
	return res
}

// parseRubricText is the last-resort rubric parse: a per-category regex over
// the raw text. Succeeds when at least one category yields a number.
func parseRubricText(raw string, weights map[string]float64) rubricResult {
	res := rubricResult{scores: make(map[string]float64, len(weights))}
	for cat := range weights {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(cat) + `\b\D{0,10}?(\d+(?:\.\d+)?)`)
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			res.scores[cat] = clampScore(v)
			res.ok = true
		}
	}
	return res
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Compute folds the review panel's outputs into one AuditRecord. The rubric
// reviewer sets the baseline per-category scores; a specialized reviewer
// fills in its category when the rubric left it unset, and can otherwise
// only lower it, never raise it. A failed or unparseable rubric yields
// all-zero scores, which forces remediation.
func Compute(policy Policy, item *types.ContentItem, outputs []agentOutput) *types.AuditRecord {
	rec := &types.AuditRecord{
		ItemID:          item.ID,
		ContentRevision: item.ContentRevision,
		CategoryScores:  make(map[string]float64, len(policy.Weights)),
		RawAgentOutputs: make(map[string]string, len(outputs)),
	}

	var rubric rubricResult
	for _, out := range outputs {
		rec.RawAgentOutputs[out.agent.ID] = out.raw
		if out.failed {
			continue
		}
		if out.agent.Structured {
			rubric = parseRubric(out.raw, policy.Weights)
		}
	}
	if rubric.ok {
		for cat, score := range rubric.scores {
			rec.CategoryScores[cat] = score
		}
		rec.Issues = rubric.issues
		rec.Recommendations = rubric.recommendations
		rec.MissingElements = rubric.missingElements
	}

	for _, out := range outputs {
		if out.failed || out.agent.Category == "" {
			continue
		}
		score, found := specializedScore(out.raw)
		if !found {
			// Free text with no score; salvage the review as issue lines.
			if lines := extract.ListItems(out.raw); len(lines) > 0 {
				rec.Issues = append(rec.Issues, lines...)
			}
			continue
		}
		if cur, set := rec.CategoryScores[out.agent.Category]; !set || score < cur {
			rec.CategoryScores[out.agent.Category] = score
		}
	}

	// Categories no reviewer scored count as zero.
	for cat := range policy.Weights {
		if _, set := rec.CategoryScores[cat]; !set {
			rec.CategoryScores[cat] = 0
		}
	}

	var weighted float64
	for cat, w := range policy.Weights {
		weighted += rec.CategoryScores[cat] * w
	}

	missing := item.MissingMandatory(policy.MinBodyLen)
	if len(missing) == 0 {
		weighted += policy.MandatoryBonus
	} else {
		rec.MissingElements = appendUnique(rec.MissingElements, missing)
	}
	if item.HasEnrichment() {
		weighted += policy.EnrichmentBonus
	}
	if len(item.Body) >= policy.LongBodyLen {
		weighted += policy.LongBodyBonus
	}

	rec.OverallScore = clampScore(weighted)
	rec.NeedsRemediation = rec.OverallScore < policy.Threshold || len(missing) > 0
	return rec
}

func appendUnique(dst []string, add []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range add {
		if _, dup := seen[s]; !dup {
			dst = append(dst, s)
			seen[s] = struct{}{}
		}
	}
	return dst
}
