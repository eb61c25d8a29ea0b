package models

// ResultKind discriminates document and chunk retrieval results
type ResultKind string

const (
	KindDocument ResultKind = "document"
	KindChunk    ResultKind = "chunk"
)

// RetrievalResult is a scored reference to a document or a chunk
type RetrievalResult struct {
	Kind     ResultKind    `json:"kind"`
	Document *CaseDocument `json:"document,omitempty"`
	Chunk    *CaseChunk    `json:"chunk,omitempty"`
	Score    float64       `json:"similarity"`
}

// CaseID returns the id of the decision the result belongs to
func (r RetrievalResult) CaseID() int64 {
	if r.Kind == KindChunk && r.Chunk != nil {
		return r.Chunk.CaseID
	}
	if r.Document != nil {
		return r.Document.ID
	}
	return 0
}

// Title returns the case title of the result
func (r RetrievalResult) Title() string {
	if r.Kind == KindChunk && r.Chunk != nil {
		return r.Chunk.Title
	}
	if r.Document != nil {
		return r.Document.Title
	}
	return ""
}

// Citation returns the citation number of the result
func (r RetrievalResult) Citation() string {
	if r.Kind == KindChunk && r.Chunk != nil {
		return r.Chunk.CitationNumber
	}
	if r.Document != nil {
		return r.Document.CitationNumber
	}
	return ""
}

// URL returns the source URL of the result
func (r RetrievalResult) URL() string {
	if r.Kind == KindChunk && r.Chunk != nil {
		return r.Chunk.URL
	}
	if r.Document != nil {
		return r.Document.URL
	}
	return ""
}

// Excerpt returns the text used when the result is shown to a model
func (r RetrievalResult) Excerpt() string {
	if r.Kind == KindChunk && r.Chunk != nil {
		return r.Chunk.Text
	}
	if r.Document != nil {
		return r.Document.Summary
	}
	return ""
}

// RelatedCase is a citation attached to a generated answer
type RelatedCase struct {
	CaseID         int64   `json:"case_id"`
	Title          string  `json:"title"`
	CitationNumber string  `json:"citation_number"`
	URL            string  `json:"url"`
	Summary        string  `json:"summary"`
	Similarity     float64 `json:"similarity_score"`
}

// ContextBlock is one rendered retrieval result
type ContextBlock struct {
	Rank     int             `json:"rank"`
	Title    string          `json:"title"`
	Citation string          `json:"citation"`
	URL      string          `json:"url"`
	Text     string          `json:"text"`
	Source   RetrievalResult `json:"-"`
}

// Context is the bounded prompt section built from retrieval results
type Context struct {
	Text    string         `json:"text"`
	Blocks  []ContextBlock `json:"blocks"`
	Dropped int            `json:"dropped"`
}

// Empty reports whether the context carries no grounding
func (c Context) Empty() bool {
	return len(c.Blocks) == 0
}
