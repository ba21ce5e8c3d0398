package dtos

// JobExtractionRequest carries a scraped job posting for LLM extraction.
type JobExtractionRequest struct {
	RawHTML string `json:"rawHtml" validate:"required"`
	URL     string `json:"url" validate:"omitempty,url"`
}

// ExtractedJob is the structured posting the LLM returns.
type ExtractedJob struct {
	CompanyName string   `json:"company_name"`
	RoleTitle   string   `json:"role_title"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	TechStack   []string `json:"tech_stack"`
	SalaryRange *string  `json:"salary_range"`
}

type CreateJobInput struct {
	CompanyName string `json:"companyName" validate:"required,max=255"`
	Title       string `json:"title" validate:"required,max=255"`
	JobLink     string `json:"jobLink" validate:"omitempty,url,max=2048"`
	Description string `json:"description" validate:"max=20000"`
	Location    string `json:"location" validate:"max=255"`

	// PostedByID is the authenticated subject, if any.
	PostedByID *uint `json:"-"`
}

type UpdateJobStatusInput struct {
	JobID  uint   `json:"id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=OPEN APPLIED CLOSED"`
}

type ApplyToJobInput struct {
	UserID uint   `json:"userId" validate:"required"`
	JobID  uint   `json:"jobId" validate:"required"`
	Notes  string `json:"notes" validate:"max=5000"`
}

// SearchJobsInput is hashed into the search cache key, so every field that
// changes the result must be part of it.
type SearchJobsInput struct {
	Query    string `json:"query" validate:"max=200"`
	Location string `json:"location" validate:"max=255"`
	Status   string `json:"status" validate:"omitempty,oneof=OPEN APPLIED CLOSED"`
	Limit    int    `json:"limit" validate:"min=1,max=100"`
	Offset   int    `json:"offset" validate:"min=0"`
}

// Params returns the search parameters for cache key derivation.
func (in SearchJobsInput) Params() map[string]any {
	return map[string]any{
		"query":    in.Query,
		"location": in.Location,
		"status":   in.Status,
		"limit":    in.Limit,
		"offset":   in.Offset,
	}
}
