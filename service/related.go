package service

import (
	"regexp"
	"strings"

	"satlegal-backend/models"
)

var (
	relatedHeading = regexp.MustCompile(`(?im)^\s*#{1,3}\s*\**related cases\**\s*:?\s*$`)
	sectionHeading = regexp.MustCompile(`(?m)^\s*#{1,2}\s+\S`)
	markdownLink   = regexp.MustCompile(`\[\**([^\]]+?)\**\]\(([^)\s]+)\)`)
	citationRef    = regexp.MustCompile(`\[?\d{4}\]?\s+[A-Z]{2,}[A-Za-z]*\s+\d+`)
)

// relatedEntry is one case named in the model's related-cases section
type relatedEntry struct {
	title    string
	url      string
	citation string
}

// relatedSection returns the body of the "Related Cases" section
func relatedSection(text string) (string, bool) {
	loc := relatedHeading.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	body := text[loc[1]:]
	if next := sectionHeading.FindStringIndex(body); next != nil {
		body = body[:next[0]]
	}
	return body, true
}

// parseRelatedEntries extracts linked or cited cases from a section body
func parseRelatedEntries(body string) []relatedEntry {
	var entries []relatedEntry
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		isItem := strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") ||
			strings.HasPrefix(line, "*") || (line[0] >= '0' && line[0] <= '9')
		if !isItem {
			continue
		}

		var e relatedEntry
		if m := markdownLink.FindStringSubmatch(line); m != nil {
			e.title = strings.TrimSpace(m[1])
			e.url = m[2]
		}
		if c := citationRef.FindString(line); c != "" {
			e.citation = c
		}
		if e.url == "" && e.citation == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// resolveRelatedCases maps the model's related-cases section onto the
// retrieval results that fed its context. Metadata always comes from the
// retrieval results. ok is false when the section is missing or names no
// known case.
func resolveRelatedCases(text string, results []models.RetrievalResult) (models.RelatedCases, bool) {
	body, found := relatedSection(text)
	if !found {
		return nil, false
	}
	entries := parseRelatedEntries(body)

	byCase := relatedByCase(results)
	seen := make(map[int64]bool)
	var out models.RelatedCases
	for _, e := range entries {
		rc, ok := matchEntry(e, results, byCase)
		if !ok || seen[rc.CaseID] {
			continue
		}
		seen[rc.CaseID] = true
		out = append(out, rc)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func matchEntry(e relatedEntry, results []models.RetrievalResult, byCase map[int64]models.RelatedCase) (models.RelatedCase, bool) {
	for _, r := range results {
		if e.url != "" && sameURL(e.url, r.URL()) {
			return byCase[r.CaseID()], true
		}
	}
	for _, r := range results {
		if e.citation != "" && sameCitation(e.citation, r.Citation()) {
			return byCase[r.CaseID()], true
		}
	}
	for _, r := range results {
		if e.title != "" && strings.EqualFold(strings.TrimSpace(e.title), strings.TrimSpace(r.Title())) {
			return byCase[r.CaseID()], true
		}
	}
	return models.RelatedCase{}, false
}

// relatedByCase builds one RelatedCase per decision, keeping the best score.
// The document summary wins over chunk excerpts whatever the arrival order.
func relatedByCase(results []models.RetrievalResult) map[int64]models.RelatedCase {
	out := make(map[int64]models.RelatedCase, len(results))
	hasSummary := make(map[int64]bool)
	for _, r := range results {
		id := r.CaseID()
		isDoc := r.Kind != models.KindChunk && r.Excerpt() != ""
		existing, ok := out[id]
		if ok && existing.Similarity >= r.Score {
			if isDoc && !hasSummary[id] {
				existing.Summary = r.Excerpt()
				out[id] = existing
				hasSummary[id] = true
			}
			continue
		}
		rc := models.RelatedCase{
			CaseID:         id,
			Title:          r.Title(),
			CitationNumber: r.Citation(),
			URL:            r.URL(),
			Summary:        r.Excerpt(),
			Similarity:     r.Score,
		}
		if isDoc {
			hasSummary[id] = true
		} else if hasSummary[id] {
			rc.Summary = existing.Summary
		}
		out[id] = rc
	}
	return out
}

// RelatedFromResults lists each decision once, in result order
func RelatedFromResults(results []models.RetrievalResult) models.RelatedCases {
	byCase := relatedByCase(results)
	out := make(models.RelatedCases, 0, len(byCase))
	seen := make(map[int64]bool)
	for _, r := range results {
		id := r.CaseID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, byCase[id])
	}
	return out
}

func sameURL(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "/")
	}
	return a != "" && b != "" && norm(a) == norm(b)
}

func sameCitation(a, b string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.NewReplacer("[", "", "]", "").Replace(strings.ToUpper(s))), " ")
	}
	return a != "" && b != "" && norm(a) == norm(b)
}
