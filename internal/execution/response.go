package execution

import (
	"fmt"
	"sort"

	"github.com/kevinhust/CAA900-sub003/internal/logger"
	"github.com/vektah/gqlparser/v2/gqlerror"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Response is the GraphQL response envelope. Data is null only when the
// operation could not be started.
type Response struct {
	Data       *orderedmap.OrderedMap[string, any] `json:"data"`
	Errors     gqlerror.List                       `json:"errors,omitempty"`
	Extensions map[string]any                      `json:"extensions,omitempty"`

	records []ErrorRecord
}

// Records returns the classified errors behind Errors, in the same order.
func (r *Response) Records() []ErrorRecord {
	return append([]ErrorRecord(nil), r.records...)
}

// RequestID returns the id the response was produced under.
func (r *Response) RequestID() string {
	id, _ := r.Extensions["requestId"].(string)
	return id
}

func (e *Executor) respond(rc *RequestContext, data *orderedmap.OrderedMap[string, any]) *Response {
	records := rc.Errors()
	// Concurrent fields record in completion order; sort for stable output.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].path.String() < records[j].path.String()
	})

	resp := &Response{
		Data: data,
		Extensions: map[string]any{
			"requestId":  rc.ID(),
			"durationMs": e.clock.Since(rc.Start()).Milliseconds(),
		},
		records: records,
	}
	for _, rec := range records {
		resp.Errors = append(resp.Errors, rec.GQLError())
	}
	return resp
}

// logCompletion writes full detail for unexpected and upstream failures
// only; expected kinds are already visible to the caller.
func (e *Executor) logCompletion(rc *RequestContext, req Request, resp *Response) {
	for _, rec := range resp.records {
		if !rec.Kind().Logged() {
			continue
		}
		e.log.Errorw("Resolver failed",
			logger.FieldRequestID, rec.RequestID(),
			logger.FieldPath, rec.path.String(),
			logger.FieldErrorCode, rec.Code(),
			logger.FieldError, fmt.Sprintf("%+v", rec.Cause()))
	}

	fields := []any{
		logger.FieldRequestID, rc.ID(),
		logger.FieldDurationMS, resp.Extensions["durationMs"],
		logger.FieldErrorCount, len(resp.records),
	}
	if req.OperationName != "" {
		fields = append(fields, logger.FieldOperation, req.OperationName)
	}
	if subject, ok := rc.Subject(); ok {
		fields = append(fields, logger.FieldUserID, subject)
	}
	e.log.Infow("GraphQL request completed", fields...)
}
