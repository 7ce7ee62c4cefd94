// Package audit evaluates content items against a quality rubric using a
// panel of model-backed reviewers and records the results in an append-only
// ledger.
package audit

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/donlaur/Engify-AI-App-sub000/types"
)

// Rubric category names. The rubric reviewer scores all of them; specialized
// reviewers each cover one.
const (
	CategoryCompleteness = "completeness"
	CategoryUsefulness   = "usefulness"
	CategorySEO          = "seo"
	CategoryExemplars    = "exemplars"
	CategoryClarity      = "clarity"
	CategorySpecificity  = "specificity"
	CategoryStructure    = "structure"
	CategoryTone         = "tone"
)

// Agent is one reviewer in the evaluation panel.
type Agent struct {
	// ID keys cache entries and raw-output records. Stable across releases.
	ID string

	// Structured reviewers return the full rubric as JSON; the rest return
	// free text mined for a single score.
	Structured bool

	// Category is the single rubric category a specialized reviewer covers.
	// Empty for the structured rubric reviewer.
	Category string

	// Expensive reviewers are skipped in fast mode.
	Expensive bool

	System string

	// promptTemplate receives the item view; see BuildPrompt.
	promptTemplate string

	// view selects which item fields are serialized into the prompt.
	view itemView
}

// itemView narrows the serialized item to the fields a reviewer judges.
// The rubric reviewer sees everything; specialized reviewers only get
// their slice, which keeps their prompts short and on topic.
type itemView int

const (
	viewFull itemView = iota
	viewSEO
	viewEnrichment
	viewProse
)

// bodyTokenBudget bounds how much of an item body is sent to a reviewer.
// Long pattern bodies otherwise dominate the context window and the bill.
const bodyTokenBudget = 2000

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

func getEncoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	return encoder
}

// truncateTokens trims text to at most budget tokens. If the tokenizer is
// unavailable it falls back to a rough 4-bytes-per-token cut.
func truncateTokens(text string, budget int) string {
	enc := getEncoder()
	if enc == nil {
		limit := budget * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit] + "\n[truncated]"
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return enc.Decode(tokens[:budget]) + "\n[truncated]"
}

// BuildPrompt renders the reviewer prompt for one item, serializing only
// the fields the agent's view covers. The body is token budgeted; metadata
// fields are passed whole.
func (a Agent) BuildPrompt(item *types.ContentItem) string {
	var sb strings.Builder
	sb.WriteString(a.promptTemplate)
	sb.WriteString("\n\n--- CONTENT ITEM ---\n")

	switch a.view {
	case viewSEO:
		fmt.Fprintf(&sb, "Title: %s\nCategory: %s\n", item.Title, item.Category)
		fmt.Fprintf(&sb, "Description: %s\n", item.Description)
		writeList(&sb, "Tags", item.Tags)
		// Empty SEO fields are written out so the reviewer sees the gap.
		fmt.Fprintf(&sb, "Slug: %s\nMeta description: %s\n", item.Slug, item.MetaDescription)
		writeList(&sb, "Keywords", item.Keywords)

	case viewEnrichment:
		fmt.Fprintf(&sb, "Type: %s\nTitle: %s\n", item.Type, item.Title)
		writeList(&sb, "Exemplars", item.Exemplars)
		writeList(&sb, "Use cases", item.UseCases)
		writeList(&sb, "Best practices", item.BestPractices)
		fmt.Fprintf(&sb, "Body:\n%s\n", truncateTokens(item.Body, bodyTokenBudget))

	case viewProse:
		fmt.Fprintf(&sb, "Title: %s\nDescription: %s\n", item.Title, item.Description)
		fmt.Fprintf(&sb, "Body:\n%s\n", truncateTokens(item.Body, bodyTokenBudget))

	default:
		fmt.Fprintf(&sb, "Type: %s\nTitle: %s\nCategory: %s\n", item.Type, item.Title, item.Category)
		if item.Role != "" {
			fmt.Fprintf(&sb, "Role: %s\n", item.Role)
		}
		fmt.Fprintf(&sb, "Description: %s\n", item.Description)
		if len(item.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(item.Tags, ", "))
		}
		fmt.Fprintf(&sb, "Body:\n%s\n", truncateTokens(item.Body, bodyTokenBudget))
		if len(item.Exemplars) > 0 {
			fmt.Fprintf(&sb, "Exemplars:\n- %s\n", strings.Join(item.Exemplars, "\n- "))
		}
		if len(item.UseCases) > 0 {
			fmt.Fprintf(&sb, "Use cases:\n- %s\n", strings.Join(item.UseCases, "\n- "))
		}
		if len(item.BestPractices) > 0 {
			fmt.Fprintf(&sb, "Best practices:\n- %s\n", strings.Join(item.BestPractices, "\n- "))
		}
		if item.Slug != "" || item.MetaDescription != "" {
			fmt.Fprintf(&sb, "Slug: %s\nMeta description: %s\nKeywords: %s\n",
				item.Slug, item.MetaDescription, strings.Join(item.Keywords, ", "))
		}
	}
	return sb.String()
}

// writeList prints a labelled bullet list, or "(none)" for an empty one so
// a focused reviewer can judge the absence.
func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(sb, "%s: (none)\n", label)
		return
	}
	fmt.Fprintf(sb, "%s:\n- %s\n", label, strings.Join(items, "\n- "))
}

const rubricSystem = `You are a meticulous content quality auditor for a library of AI prompts and patterns. You always answer with a single JSON object and nothing else.`

const rubricPrompt = `Evaluate the content item below on each rubric category, scoring 0-10.

Respond with exactly this JSON shape:
{
  "completeness": {"score": 0},
  "usefulness": {"score": 0},
  "seo": {"score": 0},
  "exemplars": {"score": 0},
  "clarity": {"score": 0},
  "specificity": {"score": 0},
  "structure": {"score": 0},
  "tone": {"score": 0},
  "issues": ["..."],
  "recommendations": ["..."],
  "missing_elements": ["..."]
}`

const seoSystem = `You are an SEO specialist reviewing developer-facing content. Be blunt about weaknesses.`

const seoPrompt = `Review the item below for search visibility: slug quality, meta description, keyword coverage, and title phrasing. Give an overall SEO score from 0 to 10 as "score: N" on its own line, then list concrete problems.`

const exemplarSystem = `You are a senior practitioner judging whether worked examples actually teach the technique.`

const exemplarPrompt = `Judge the exemplars and use cases of the item below: are they realistic, varied, and directly runnable? Give a score from 0 to 10 as "score: N" on its own line, then explain what is missing.`

const claritySystem = `You are an editor for technical documentation. You value short sentences and concrete language.`

const clarityPrompt = `Assess how clearly the item below communicates: structure, jargon, ambiguity. Give a score from 0 to 10 as "score: N" on its own line, then list the passages that need rewriting.`

// DefaultAgents returns the standard review panel. The rubric reviewer is
// the backbone; specialized reviewers can only pull their category down.
func DefaultAgents() []Agent {
	return []Agent{
		{
			ID:             "rubric",
			Structured:     true,
			System:         rubricSystem,
			promptTemplate: rubricPrompt,
		},
		{
			ID:             "seo_reviewer",
			Category:       CategorySEO,
			System:         seoSystem,
			promptTemplate: seoPrompt,
			view:           viewSEO,
		},
		{
			ID:             "exemplar_reviewer",
			Category:       CategoryExemplars,
			Expensive:      true,
			System:         exemplarSystem,
			promptTemplate: exemplarPrompt,
			view:           viewEnrichment,
		},
		{
			ID:             "clarity_reviewer",
			Category:       CategoryClarity,
			System:         claritySystem,
			promptTemplate: clarityPrompt,
			view:           viewProse,
		},
	}
}
