package casecontext

import (
	"strings"
	"testing"
	"unicode/utf8"

	"satlegal-backend/models"
)

func results(n int) []models.RetrievalResult {
	out := make([]models.RetrievalResult, n)
	for i := range out {
		d := models.CaseDocument{
			ID:             int64(i + 1),
			Title:          "Tenant v Landlord " + string(rune('A'+i)),
			CitationNumber: "[2022] WASAT 1" + string(rune('0'+i)),
			URL:            "https://example.org/cases/" + string(rune('a'+i)),
			Summary:        strings.Repeat("The tribunal considered the lease. ", 20),
		}
		out[i] = models.RetrievalResult{Kind: models.KindDocument, Document: &d, Score: 0.95 - float64(i)*0.05}
	}
	return out
}

func TestFormatBlockContents(t *testing.T) {
	got := Format(results(1), Budget{MaxChars: 5000, ExcerptChars: 40})

	if !strings.HasPrefix(got.Text, "SIMILAR CASES:") {
		t.Errorf("missing header: %q", got.Text)
	}
	for _, want := range []string{"[1] Tenant v Landlord A", "([2022] WASAT 10)", "[document]", "Similarity: 0.95", "URL: https://example.org/cases/a"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("context missing %q:\n%s", want, got.Text)
		}
	}
	if len(got.Blocks) != 1 || got.Blocks[0].Rank != 1 || got.Blocks[0].Citation != "[2022] WASAT 10" {
		t.Errorf("unexpected blocks: %+v", got.Blocks)
	}

	excerpt := got.Text[strings.Index(got.Text, "Excerpt: ")+len("Excerpt: "):]
	if utf8.RuneCountInString(excerpt) != 40 || !strings.HasSuffix(excerpt, "...") {
		t.Errorf("excerpt not capped at 40 runes: %q", excerpt)
	}
}

func TestFormatNeverExceedsBudget(t *testing.T) {
	in := results(8)
	for _, max := range []int{0, 10, 200, 400, 700, 1000, 2500, 100000} {
		got := Format(in, Budget{MaxChars: max, ExcerptChars: 150})
		if n := utf8.RuneCountInString(got.Text); n > max {
			t.Errorf("budget %d: context is %d runes", max, n)
		}
		if len(got.Blocks)+got.Dropped != len(in) {
			t.Errorf("budget %d: %d kept + %d dropped != %d", max, len(got.Blocks), got.Dropped, len(in))
		}
	}
}

func TestFormatDropsLowestTail(t *testing.T) {
	in := results(6)
	full := Format(in, Budget{MaxChars: 100000, ExcerptChars: 150})
	cut := Format(in, Budget{MaxChars: utf8.RuneCountInString(full.Text) / 2, ExcerptChars: 150})

	if cut.Dropped == 0 || len(cut.Blocks) == 0 {
		t.Fatalf("expected a partial context, got %d blocks / %d dropped", len(cut.Blocks), cut.Dropped)
	}
	for i, b := range cut.Blocks {
		if b.Rank != i+1 || b.Source.Document.ID != in[i].Document.ID {
			t.Errorf("block %d is not input item %d", i, i)
		}
	}
	if !strings.HasPrefix(full.Text, cut.Text) {
		t.Error("truncated context is not a prefix of the full context")
	}
}

func TestFormatIdempotent(t *testing.T) {
	in := results(5)
	b := Budget{MaxChars: 1500, ExcerptChars: 200}
	first := Format(in, b)
	second := Format(in, b)
	if first.Text != second.Text {
		t.Error("Format produced different output for the same input")
	}
}

func TestFormatEmpty(t *testing.T) {
	got := Format(nil, DefaultBudget())
	if got.Text != "" || !got.Empty() {
		t.Errorf("empty input produced %q", got.Text)
	}

	tiny := Format(results(2), Budget{MaxChars: len(Header) + 5, ExcerptChars: 100})
	if tiny.Text != "" || tiny.Dropped != 2 {
		t.Errorf("budget below one block: text %q dropped %d", tiny.Text, tiny.Dropped)
	}
}

func TestFormatChunk(t *testing.T) {
	c := models.CaseChunk{ID: 4, CaseID: 1, Title: "Re Estate", Text: "line one\n\n  line two"}
	got := Format([]models.RetrievalResult{{Kind: models.KindChunk, Chunk: &c, Score: 0.734}}, DefaultBudget())

	if !strings.Contains(got.Text, "[chunk]") || !strings.Contains(got.Text, "Similarity: 0.73") {
		t.Errorf("chunk block malformed:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "Excerpt: line one line two") {
		t.Errorf("whitespace not collapsed:\n%s", got.Text)
	}
}
