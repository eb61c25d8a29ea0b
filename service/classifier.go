package service

import (
	"math"
	"regexp"
	"strings"
)

// QueryType is the classified intent of a chat query
type QueryType string

const (
	QueryCaseSpecific QueryType = "case_specific"
	QueryGeneral      QueryType = "general"
)

var caseSpecificKeywords = []string{
	"case", "cases", "ruling", "rulings", "decision", "decisions",
	"precedent", "precedents", "judgment", "judgments", "verdict",
	"verdicts", "court", "courts", "judge", "judges", "tribunal",
	"find similar", "similar cases", "relevant cases", "find cases",
	"example cases", "show me cases", "search for cases", "what cases",
	"recent cases", "specific cases",
}

var generalKeywords = []string{
	"what is", "how to", "explain", "definition", "define", "meaning",
	"process", "procedure", "guidelines", "steps", "requirements",
	"overview", "summary", "introduction", "basics", "fundamental",
	"principles", "concept", "theory", "framework", "structure",
	"approach", "strategy", "advice", "help", "guidance", "tips",
}

var caseSpecificPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(find|show|give|provide).*case`),
	regexp.MustCompile(`(previous|prior|past|similar).*case`),
	regexp.MustCompile(`case.*(about|related to|involving|concerning)`),
	regexp.MustCompile(`(example|instance).*(of|where)`),
	regexp.MustCompile(`v\.`),
	regexp.MustCompile(`\[\d{4}\]`),
	regexp.MustCompile(`\d{4}.*wasat`),
}

var generalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(what|how|why|when|where|who).*(is|are|do|does|should|would|could|can)`),
	regexp.MustCompile(`explain.*(how|why|what)`),
	regexp.MustCompile(`(meaning|definition).*of`),
	regexp.MustCompile(`(steps|process|procedure).*(for|to|in)`),
}

// ClassifyQuery decides whether a query asks for specific decisions or for
// general legal information. Confidence is bounded to [0.5, 0.95].
func ClassifyQuery(query string) (QueryType, float64) {
	q := strings.ToLower(query)

	caseScore := countContains(q, caseSpecificKeywords) + 2*countMatches(q, caseSpecificPatterns)
	generalScore := countContains(q, generalKeywords) + 2*countMatches(q, generalPatterns)

	if caseScore == 0 && generalScore == 0 {
		return QueryGeneral, 0.5
	}

	total := float64(caseScore + generalScore)
	confidence := math.Abs(float64(caseScore-generalScore)) / total
	confidence = min(0.95, max(0.5, confidence))

	if caseScore >= generalScore {
		return QueryCaseSpecific, confidence
	}
	return QueryGeneral, confidence
}

func countContains(s string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(s, k) {
			n++
		}
	}
	return n
}

func countMatches(s string, patterns []*regexp.Regexp) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(s) {
			n++
		}
	}
	return n
}
