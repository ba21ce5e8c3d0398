package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kevinhust/CAA900-sub003/internal/dtos"
	"github.com/kevinhust/CAA900-sub003/internal/execution"
	"github.com/kevinhust/CAA900-sub003/internal/services"
)

// JobHandler serves the REST extraction endpoint kept next to GraphQL for
// the browser extension.
type JobHandler struct {
	LLMService *services.LLMService
}

func NewJobHandler(llm *services.LLMService) *JobHandler {
	return &JobHandler{LLMService: llm}
}

// statusFor maps error kinds onto HTTP statuses.
var statusFor = map[execution.ErrorKind]int{
	execution.KindValidation:       http.StatusBadRequest,
	execution.KindNotFound:         http.StatusNotFound,
	execution.KindPermissionDenied: http.StatusForbidden,
	execution.KindUpstreamFailure:  http.StatusBadGateway,
	execution.KindUnexpected:       http.StatusInternalServerError,
}

// ParseJob is the POST /jobs/extract endpoint
func (h *JobHandler) ParseJob(c *gin.Context) {
	var req dtos.JobExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	job, err := h.LLMService.ExtractJobDetails(c.Request.Context(), req.RawHTML)
	if err != nil {
		kind := execution.Classify(err)
		c.JSON(statusFor[kind], gin.H{
			"success": false,
			"code":    kind.Code(),
			"error":   execution.CallerMessage(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    job,
	})
}
