package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kevinhust/CAA900-sub003/internal/execution"
)

// SubjectHeader carries the authenticated user id. Authentication itself
// happens in front of this service.
const SubjectHeader = "X-User-ID"

// Executor runs one GraphQL operation.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) *execution.Response
}

type GraphQLHandler struct {
	Executor Executor
}

func NewGraphQLHandler(e Executor) *GraphQLHandler {
	return &GraphQLHandler{Executor: e}
}

// Query is the POST /graphql endpoint. Every executed operation answers 200;
// failures are in the response's errors.
func (h *GraphQLHandler) Query(c *gin.Context) {
	var req execution.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	req.SubjectID = c.GetHeader(SubjectHeader)

	resp := h.Executor.Execute(c.Request.Context(), req)
	c.Header("X-Request-ID", resp.RequestID())
	c.JSON(http.StatusOK, resp)
}
