package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kevinhust/CAA900-sub003/internal/config"
	"github.com/kevinhust/CAA900-sub003/internal/dtos"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/logger"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"go.uber.org/zap"
)

// maxExtractionInput bounds the prompt size; postings longer than this are
// truncated.
const maxExtractionInput = 20000

// ErrExtractionDisabled is returned when no LLM API key is configured.
var ErrExtractionDisabled = errors.Mark(errors.New("job extraction is not configured"), errors.ErrUpstream)

type LLMService struct {
	// Client is nil when extraction is disabled.
	Client llms.Model
	log    *zap.SugaredLogger
}

// NewLLMService builds a Gemini client. Without an API key the service is
// returned disabled rather than failing startup.
func NewLLMService(ctx context.Context, cfg config.LLMConfig, log *zap.SugaredLogger) (*LLMService, error) {
	log = logger.Named(log, "llm")
	if cfg.APIKey == "" {
		log.Warn("GEMINI_API_KEY is empty, job extraction is disabled")
		return &LLMService{log: log}, nil
	}

	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(cfg.Model),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return &LLMService{Client: llm, log: log}, nil
}

// NewLLMServiceWithModel wraps an existing model.
func NewLLMServiceWithModel(model llms.Model, log *zap.SugaredLogger) *LLMService {
	return &LLMService{Client: model, log: logger.Named(log, "llm")}
}

const jobExtractionPrompt = `
You are an expert Job Data Extraction Agent. Your task is to analyze the provided raw HTML/Text from a job posting and extract structured data.

### INSTRUCTIONS:
1. **Analyze** the text to identify the core job details.
2. **Ignore** navigation menus, footers, "similar jobs" lists, and site advertisements.
3. **Extract** the following fields strictly.
4. **Format** the output as valid JSON only. Do not wrap the output in markdown code blocks.

### OUTPUT SCHEMA:
{
    "company_name": "Name of the company (e.g., Google, StartupInc)",
    "role_title": "Job title (e.g., Senior Backend Engineer)",
    "location": "Job location or 'Remote'",
    "description": "A clean summary of the job. Focus on Responsibilities and Requirements. Remove HTML tags.",
    "tech_stack": ["Array", "of", "technologies", "mentioned", "e.g., Go, React, AWS"],
    "salary_range": "The salary string if explicitly mentioned (e.g., '$100k - $150k'), otherwise null"
}

### CONSTRAINT:
If a piece of information is missing, set the value to null. Do not hallucinate or guess.

### RAW CONTENT:
%s
`

// ExtractJobDetails turns a raw posting into structured fields.
func (s *LLMService) ExtractJobDetails(ctx context.Context, rawHTML string) (*dtos.ExtractedJob, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return nil, errors.NewInvalidRequestError("rawHtml must not be empty")
	}
	if s.Client == nil {
		return nil, ErrExtractionDisabled
	}
	if len(rawHTML) > maxExtractionInput {
		rawHTML = rawHTML[:maxExtractionInput]
	}

	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, fmt.Sprintf(jobExtractionPrompt, rawHTML))
	if err != nil {
		return nil, errors.MarkUpstream(err, "llm extraction")
	}

	var job dtos.ExtractedJob
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &job); err != nil {
		s.log.Warnw("LLM returned malformed JSON", logger.FieldError, err)
		return nil, errors.MarkUpstream(err, "decode llm extraction")
	}
	return &job, nil
}

// stripCodeFence removes a markdown code block the model may add despite
// being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
