package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/kevinhust/CAA900-sub003/internal/cache"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/execution"
	"github.com/kevinhust/CAA900-sub003/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"
)

const schema = `
type Query {
  whoami: String
  broken: String
}
`

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := execution.LoadSchema("test.graphql", schema)
	require.NoError(t, err)
	exec := execution.NewExecutor(s, execution.Resolvers{
		"Query": {
			"whoami": func(ctx context.Context, _ execution.ResolveParams) (any, error) {
				subject, ok := execution.SubjectFromContext(ctx)
				if !ok {
					return "anonymous", nil
				}
				return subject, nil
			},
			"broken": func(context.Context, execution.ResolveParams) (any, error) {
				return nil, errors.MarkUpstream(errors.New("dial tcp: refused"), "query")
			},
		},
	}, execution.WithRequestIDs(func() string { return "req-1" }))

	r := gin.New()
	api := r.Group("/api/v1")
	api.GET("/health", NewHealthHandler(cache.NewLayer(cache.NewMemoryBackend())).Check)
	api.POST("/graphql", NewGraphQLHandler(exec).Query)
	return r
}

func post(t *testing.T, r http.Handler, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"status": "ok",
		"cache": {
			"stats": {"hits": 0, "misses": 0, "sets": 0, "invalidated": 0, "errors": 0},
			"hitRate": 0,
			"entries": 0
		}
	}`, w.Body.String())
}

func TestHealthCheckReportsCacheStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	layer := cache.NewLayer(cache.NewMemoryBackend())
	require.NoError(t, layer.Set(ctx, "job:1", "a", time.Minute))
	var v string
	_, err := layer.Get(ctx, "job:1", &v)
	require.NoError(t, err)
	_, err = layer.Get(ctx, "job:2", &v)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/health", NewHealthHandler(layer).Check)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string `json:"status"`
		Cache  struct {
			Stats   cache.Stats `json:"stats"`
			HitRate float64     `json:"hitRate"`
			Entries int         `json:"entries"`
		} `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(1), body.Cache.Stats.Hits)
	assert.Equal(t, int64(1), body.Cache.Stats.Misses)
	assert.Equal(t, 0.5, body.Cache.HitRate)
	assert.Equal(t, 1, body.Cache.Entries)
}

// downBackend fails every call the way an unreachable Redis does.
type downBackend struct{}

var errDown = errors.MarkUpstream(errors.New("dial tcp: refused"), "redis")

func (downBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (downBackend) Set(context.Context, string, []byte, time.Duration, []string) error {
	return errDown
}
func (downBackend) Invalidate(context.Context, string) (int, error) { return 0, errDown }
func (downBackend) Delete(context.Context, string) error            { return errDown }
func (downBackend) Len(context.Context) (int, error)                { return 0, errDown }

func TestHealthCheckDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", NewHealthHandler(cache.NewLayer(downBackend{})).Check)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "A backing service is temporarily unavailable", body["error"])
	assert.NotContains(t, w.Body.String(), "dial tcp")
}

func TestGraphQLPassesSubject(t *testing.T) {
	r := newRouter(t)

	w := post(t, r, "/api/v1/graphql", gin.H{"query": "{ whoami }"}, http.Header{SubjectHeader: {"42"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	var body struct {
		Data       map[string]any `json:"data"`
		Extensions map[string]any `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "42", body.Data["whoami"])
	assert.Equal(t, "req-1", body.Extensions["requestId"])

	w = post(t, r, "/api/v1/graphql", gin.H{"query": "{ whoami }"}, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "anonymous", body.Data["whoami"])
}

func TestGraphQLErrorsAreInTheEnvelope(t *testing.T) {
	w := post(t, newRouter(t), "/api/v1/graphql", gin.H{"query": "{ whoami broken }"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data   map[string]any `json:"data"`
		Errors []struct {
			Message    string         `json:"message"`
			Path       []any          `json:"path"`
			Extensions map[string]any `json:"extensions"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "anonymous", body.Data["whoami"])
	assert.Nil(t, body.Data["broken"])
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "A backing service is temporarily unavailable", body.Errors[0].Message)
	assert.Equal(t, []any{"broken"}, body.Errors[0].Path)
	assert.Equal(t, "UPSTREAM_FAILURE", body.Errors[0].Extensions["code"])
	assert.Equal(t, "req-1", body.Errors[0].Extensions["requestId"])
}

func TestGraphQLRejectsMalformedBody(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphql", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, r, "/api/v1/graphql", gin.H{"variables": gin.H{}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "query is required")
}

type replyModel string

func (m replyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: string(m)}}}, nil
}

func (m replyModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return string(m), nil
}

func TestParseJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t).Sugar()

	tests := []struct {
		name     string
		llm      *services.LLMService
		body     gin.H
		wantCode int
		wantErr  string
	}{
		{
			name:     "extracted",
			llm:      services.NewLLMServiceWithModel(replyModel(`{"company_name":"Acme","role_title":"SRE"}`), log),
			body:     gin.H{"rawHtml": "<h1>SRE</h1>"},
			wantCode: http.StatusOK,
		},
		{
			name:     "empty posting",
			llm:      services.NewLLMServiceWithModel(replyModel(`{}`), log),
			body:     gin.H{"rawHtml": " "},
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION",
		},
		{
			name:     "model returned prose",
			llm:      services.NewLLMServiceWithModel(replyModel("I cannot do that"), log),
			body:     gin.H{"rawHtml": "<h1>SRE</h1>"},
			wantCode: http.StatusBadGateway,
			wantErr:  "UPSTREAM_FAILURE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/jobs/extract", NewJobHandler(tt.llm).ParseJob)

			w := post(t, r, "/jobs/extract", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.wantErr == "" {
				assert.Equal(t, true, body["success"])
				data := body["data"].(map[string]any)
				assert.Equal(t, "Acme", data["company_name"])
				return
			}
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["code"])
		})
	}
}
