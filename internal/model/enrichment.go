package model

import "time"

// Section keys for text extracted from tender documents.
const (
	SectionQualifications = "qualifications"
	SectionEvaluation     = "evaluation_criteria"
	SectionProcess        = "process_description"
	SectionDelivery       = "delivery_terms"
)

// SectionKeys lists the labeled sections in a stable order.
var SectionKeys = []string{
	SectionQualifications,
	SectionEvaluation,
	SectionProcess,
	SectionDelivery,
}

// EnrichmentRecord holds the text and AI output accumulated for one tender.
// Created alongside the tender, mutated only by the enrichment state machine.
type EnrichmentRecord struct {
	TenderKey       string            `json:"tender_key"`
	Sections        map[string]string `json:"sections,omitempty"`
	RawText         string            `json:"raw_text,omitempty"`
	SourceDocuments []string          `json:"source_documents,omitempty"`
	Structured      *StructuredFields `json:"structured,omitempty"`
	Confidence      float64           `json:"confidence"`
	ExtractedAt     *time.Time        `json:"extracted_at,omitempty"`
	EnrichedAt      *time.Time        `json:"enriched_at,omitempty"`
}

// StructuredFields is the AI-extracted structured output for a tender.
type StructuredFields struct {
	RequiredQualifications string `json:"required_qualifications"`
	EvaluationCriteria     string `json:"evaluation_criteria"`
	ProcessDescription     string `json:"process_description"`
	DeliveryTerms          string `json:"delivery_terms"`
	RequiredDocumentation  string `json:"required_documentation"`
}

// ScrapeRun is the immutable summary of one reconciliation pass.
type ScrapeRun struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Found     int       `json:"found"`
	New       int       `json:"new"`
	Updated   int       `json:"updated"`
	Closed    int       `json:"closed"`
	Errors    int       `json:"errors"`
}
