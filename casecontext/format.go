// Package casecontext renders retrieval results into a bounded prompt section.
package casecontext

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"satlegal-backend/models"
)

// Header opens every non-empty context
const Header = "SIMILAR CASES:\n\n"

const blockSeparator = "\n\n"

// Budget bounds the rendered context
type Budget struct {
	MaxChars     int // total size including header, in runes
	ExcerptChars int // per-result excerpt cap, in runes
}

// DefaultBudget returns the production budget
func DefaultBudget() Budget {
	return Budget{MaxChars: 12000, ExcerptChars: 1200}
}

// Format renders results in order. Blocks that would push the context past
// the budget are dropped together with everything after them.
func Format(results []models.RetrievalResult, budget Budget) models.Context {
	ctx := models.Context{Blocks: []models.ContextBlock{}}
	if len(results) == 0 {
		return ctx
	}

	var sb strings.Builder
	used := utf8.RuneCountInString(Header)
	for i, r := range results {
		block := renderBlock(i+1, r, budget.ExcerptChars)
		cost := utf8.RuneCountInString(block)
		if i > 0 {
			cost += utf8.RuneCountInString(blockSeparator)
		}
		if used+cost > budget.MaxChars {
			ctx.Dropped = len(results) - i
			break
		}
		if i > 0 {
			sb.WriteString(blockSeparator)
		}
		sb.WriteString(block)
		used += cost

		ctx.Blocks = append(ctx.Blocks, models.ContextBlock{
			Rank:     i + 1,
			Title:    r.Title(),
			Citation: r.Citation(),
			URL:      r.URL(),
			Text:     block,
			Source:   r,
		})
	}

	if len(ctx.Blocks) == 0 {
		return ctx
	}
	ctx.Text = Header + sb.String()
	return ctx
}

func renderBlock(rank int, r models.RetrievalResult, excerptCap int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", rank, orUnknown(r.Title()))
	if c := r.Citation(); c != "" {
		fmt.Fprintf(&b, " (%s)", c)
	}
	fmt.Fprintf(&b, " [%s]\n", r.Kind)
	if u := r.URL(); u != "" {
		fmt.Fprintf(&b, "URL: %s\n", u)
	}
	fmt.Fprintf(&b, "Similarity: %.2f\n", r.Score)
	fmt.Fprintf(&b, "Excerpt: %s", truncate(collapse(r.Excerpt()), excerptCap))
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Untitled decision"
	}
	return s
}

// collapse folds runs of whitespace so excerpts stay on one line
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	const ellipsis = "..."
	if limit <= len(ellipsis) {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-len(ellipsis)]) + ellipsis
}
