// Package enrich drives tenders through the enrichment stages and extracts
// structured fields from tender documents with Claude.
package enrich

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/resilience"
	"github.com/garescout/tender-cli/internal/textextract"
	"github.com/garescout/tender-cli/pkg/anthropic"
)

// notFound is the placeholder stored for fields the model could not locate.
const notFound = "Not Found"

// defaultConfidence is assumed when the model omits its own score.
const defaultConfidence = 0.7

// Enricher turns merged document text into structured tender fields.
// A recoverable failure (quota, timeout) is transient; malformed model
// output is permanent.
type Enricher interface {
	Enrich(ctx context.Context, merged textextract.Merged) (*model.StructuredFields, float64, error)
}

// AnthropicEnricher implements Enricher on the Claude messages API.
type AnthropicEnricher struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewAnthropicEnricher creates an AnthropicEnricher.
func NewAnthropicEnricher(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicEnricher {
	return &AnthropicEnricher{client: client, cfg: cfg}
}

const systemPrompt = "You are an expert in Italian public procurement. " +
	"Extract the requested fields and return ONLY valid JSON with keys: " +
	"required_qualifications, evaluation_criteria, process_description, " +
	"delivery_terms, required_documentation, confidence_score (0.0-1.0). " +
	"If a field is missing, set it to 'Not Found'. " +
	"Focus on concrete values: scores, percentages, deadlines, ISO/SOA certifications, " +
	"payment terms, submission modalities (platform/PEC), envelope structure (Busta A/B/C), guarantees. " +
	"Use concise Italian where appropriate. Do not invent data."

func (e *AnthropicEnricher) Enrich(ctx context.Context, merged textextract.Merged) (*model.StructuredFields, float64, error) {
	timeout := time.Duration(e.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	temperature := e.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemPrompt,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildPrompt(merged)},
		},
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "enrich")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "enrich: create message")
	}
	resp.Usage.LogCost(e.cfg.Model, "enrich")

	fields, confidence, err := parseResponse(resp.Text())
	if err != nil {
		// Malformed output does not improve on retry.
		return nil, 0, resilience.NewPermanentError(err)
	}
	return fields, confidence, nil
}

// buildPrompt assembles tagged content blocks from the merged sections.
// Sections the analyzer could not locate are marked Not Provided so the
// model does not hallucinate them from unrelated text.
func buildPrompt(merged textextract.Merged) string {
	block := func(label, text string) string {
		if strings.TrimSpace(text) == "" {
			return "<" + label + ">Not Provided</" + label + ">"
		}
		return "<" + label + ">\n" + text + "\n</" + label + ">"
	}

	return strings.Join([]string{
		block("qualifications", merged.Sections[model.SectionQualifications]),
		block("evaluation", merged.Sections[model.SectionEvaluation]),
		block("process", merged.Sections[model.SectionProcess]),
		block("delivery", merged.Sections[model.SectionDelivery]),
		block("raw_text", merged.RawText),
	}, "\n\n")
}

// parseResponse extracts the JSON payload, tolerating markdown fences, and
// backfills missing keys with Not Found.
func parseResponse(text string) (*model.StructuredFields, float64, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.Trim(cleaned, "`")
		if strings.HasPrefix(strings.ToLower(cleaned), "json") {
			cleaned = cleaned[4:]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var raw struct {
		RequiredQualifications string   `json:"required_qualifications"`
		EvaluationCriteria     string   `json:"evaluation_criteria"`
		ProcessDescription     string   `json:"process_description"`
		DeliveryTerms          string   `json:"delivery_terms"`
		RequiredDocumentation  string   `json:"required_documentation"`
		ConfidenceScore        *float64 `json:"confidence_score"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, 0, eris.Wrap(err, "enrich: parse model response")
	}

	fields := &model.StructuredFields{
		RequiredQualifications: orNotFound(raw.RequiredQualifications),
		EvaluationCriteria:     orNotFound(raw.EvaluationCriteria),
		ProcessDescription:     orNotFound(raw.ProcessDescription),
		DeliveryTerms:          orNotFound(raw.DeliveryTerms),
		RequiredDocumentation:  orNotFound(raw.RequiredDocumentation),
	}

	confidence := defaultConfidence
	if raw.ConfidenceScore != nil {
		confidence = *raw.ConfidenceScore
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
	}
	return fields, confidence, nil
}

func orNotFound(s string) string {
	if strings.TrimSpace(s) == "" {
		return notFound
	}
	return s
}

// EmptyStructured returns the all-Not-Found field set used when a tender
// has no extractable text and the model call is skipped.
func EmptyStructured() *model.StructuredFields {
	return &model.StructuredFields{
		RequiredQualifications: notFound,
		EvaluationCriteria:     notFound,
		ProcessDescription:     notFound,
		DeliveryTerms:          notFound,
		RequiredDocumentation:  notFound,
	}
}
