package execution

import (
	"context"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrorRecord is one classified failure. It is immutable.
type ErrorRecord struct {
	kind      ErrorKind
	message   string
	path      ast.Path
	requestID string
	timestamp time.Time
	cause     error
}

func (r ErrorRecord) Kind() ErrorKind      { return r.kind }
func (r ErrorRecord) Code() string         { return r.kind.Code() }
func (r ErrorRecord) Message() string      { return r.message }
func (r ErrorRecord) RequestID() string    { return r.requestID }
func (r ErrorRecord) Timestamp() time.Time { return r.timestamp }

// Cause is the underlying error. It is never sent to the caller.
func (r ErrorRecord) Cause() error { return r.cause }

// Path returns a copy of the field path.
func (r ErrorRecord) Path() ast.Path {
	if r.path == nil {
		return nil
	}
	return append(ast.Path(nil), r.path...)
}

// GQLError renders the record for the response envelope.
func (r ErrorRecord) GQLError() *gqlerror.Error {
	return &gqlerror.Error{
		Message: r.message,
		Path:    r.Path(),
		Extensions: map[string]interface{}{
			"code":      r.Code(),
			"requestId": r.requestID,
			"timestamp": r.timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
}

// RequestContext is the bookkeeping of one in-flight request.
type RequestContext struct {
	id      string
	start   time.Time
	subject string
	now     func() time.Time

	mu     sync.Mutex
	errors []ErrorRecord
}

func newRequestContext(id string, subject string, now func() time.Time) *RequestContext {
	return &RequestContext{id: id, start: now(), subject: subject, now: now}
}

func (rc *RequestContext) ID() string       { return rc.id }
func (rc *RequestContext) Start() time.Time { return rc.start }

// Subject returns the authenticated subject id, if any.
func (rc *RequestContext) Subject() (string, bool) {
	return rc.subject, rc.subject != ""
}

// Record classifies err and appends it to the request's error list.
func (rc *RequestContext) Record(err error, path ast.Path) ErrorRecord {
	kind := Classify(err)
	rec := ErrorRecord{
		kind:      kind,
		message:   callerMessage(kind, err),
		path:      append(ast.Path(nil), path...),
		requestID: rc.id,
		timestamp: rc.now(),
		cause:     err,
	}
	rc.mu.Lock()
	rc.errors = append(rc.errors, rec)
	rc.mu.Unlock()
	return rec
}

// Errors returns the records collected so far.
func (rc *RequestContext) Errors() []ErrorRecord {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]ErrorRecord(nil), rc.errors...)
}

type ctxKey struct{}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the request context, or nil outside of Execute.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}

// SubjectFromContext returns the authenticated subject of the current request.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if rc := FromContext(ctx); rc != nil {
		return rc.Subject()
	}
	return "", false
}
