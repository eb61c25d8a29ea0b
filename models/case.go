package models

import (
	"time"
)

// Embedding is a fixed-dimension semantic vector
type Embedding []float64

// CaseDocument represents a tribunal decision from the satdata table
type CaseDocument struct {
	ID             int64     `json:"id"`
	Title          string    `json:"case_title"`
	CitationNumber string    `json:"citation_number"`
	Topic          string    `json:"case_topic"`
	Summary        string    `json:"reasons_summary"`
	Catchwords     string    `json:"catchwords,omitempty"`
	URL            string    `json:"case_url"`
	DecisionDate   time.Time `json:"decision_date,omitempty"`
	Embedding      Embedding `json:"-"`
}

// CaseChunk represents a sub-span of a decision's reasons
type CaseChunk struct {
	ID             int64     `json:"id"`
	CaseID         int64     `json:"case_id"`
	ChunkIndex     int       `json:"chunk_index"`
	Text           string    `json:"chunk_text"`
	Topic          string    `json:"case_topic"`
	Title          string    `json:"case_title"`
	CitationNumber string    `json:"citation_number"`
	URL            string    `json:"case_url"`
	DecisionDate   time.Time `json:"decision_date,omitempty"`
	Embedding      Embedding `json:"-"`
}

// ScoredDocument is a document returned by a store search with its coarse score
type ScoredDocument struct {
	Document CaseDocument
	Score    float64
}

// ScoredChunk is a chunk returned by a store search with its coarse score
type ScoredChunk struct {
	Chunk CaseChunk
	Score float64
}
