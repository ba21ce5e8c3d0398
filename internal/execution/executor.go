package execution

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/loader"
	"github.com/kevinhust/CAA900-sub003/internal/logger"
	gqlparser "github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	gqlvalidator "github.com/vektah/gqlparser/v2/validator"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ResolveParams is what a field resolver gets besides the context.
type ResolveParams struct {
	// Source is the resolved value of the parent object, nil at the root.
	Source any
	Args   map[string]any
	Field  *ast.Field
	Path   ast.Path
}

// FieldResolver resolves one field. A nil value with a nil error is null.
type FieldResolver func(ctx context.Context, p ResolveParams) (any, error)

// Resolvers maps object type name to field name to resolver. Fields with no
// resolver are read from the parent value: a map key, or a struct field
// matched by json tag or case-insensitive name.
type Resolvers map[string]map[string]FieldResolver

// Request is one GraphQL operation.
type Request struct {
	Query         string         `json:"query" binding:"required"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	// SubjectID is the authenticated caller, empty when anonymous.
	SubjectID string `json:"-"`
}

// Executor runs operations against one schema.
type Executor struct {
	schema    *ast.Schema
	resolvers Resolvers
	log       *zap.SugaredLogger
	clock     clockwork.Clock
	timeout   time.Duration
	newID     func() string
	newLoader func() *loader.Loader
	metrics   *Metrics

	fieldIndexes sync.Map // reflect.Type -> map[string][]int
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Executor) { e.log = logger.Named(log, "execution") }
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithTimeout bounds each request. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithRequestIDs replaces the uuid request id generator.
func WithRequestIDs(fn func() string) Option {
	return func(e *Executor) { e.newID = fn }
}

// WithLoaders gives every request its own batch loader, reachable from
// resolvers through loader.FromContext and closed when the request ends.
func WithLoaders(fn func() *loader.Loader) Option {
	return func(e *Executor) { e.newLoader = fn }
}

// LoadSchema parses and validates an SDL document.
func LoadSchema(name, sdl string) (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, errors.Wrap(err, "load schema")
	}
	return schema, nil
}

func NewExecutor(schema *ast.Schema, resolvers Resolvers, opts ...Option) *Executor {
	e := &Executor{
		schema:    schema,
		resolvers: resolvers,
		log:       logger.Nop(),
		clock:     clockwork.NewRealClock(),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs req to completion. It never fails: every problem is reported
// in the response's errors.
func (e *Executor) Execute(ctx context.Context, req Request) *Response {
	start := e.clock.Now()
	rc := newRequestContext(e.newID(), req.SubjectID, e.clock.Now)
	ctx = withRequestContext(ctx, rc)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if e.newLoader != nil {
		l := e.newLoader()
		defer l.Close()
		ctx = loader.NewContext(ctx, l)
	}

	var data *orderedmap.OrderedMap[string, any]
	op := e.prepare(rc, req)
	if op != nil {
		data = op.run(ctx)
	}

	resp := e.respond(rc, data)
	e.logCompletion(rc, req, resp)
	e.metrics.observe(operationLabel(op), len(resp.Errors) > 0, e.clock.Since(start))
	return resp
}

// operation is one validated operation in flight.
type operation struct {
	*Executor
	rc   *RequestContext
	doc  *ast.QueryDocument
	op   *ast.OperationDefinition
	root *ast.Definition
	vars map[string]any
}

func (e *Executor) prepare(rc *RequestContext, req Request) *operation {
	doc, gqlErrs := gqlparser.LoadQuery(e.schema, req.Query)
	if len(gqlErrs) > 0 {
		for _, ge := range gqlErrs {
			rc.Record(NewError(KindValidation, "%s", ge.Message), nil)
		}
		return nil
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			rc.Record(NewError(KindValidation, "an operation name is required when the document has several operations"), nil)
		} else {
			rc.Record(NewError(KindValidation, "unknown operation %q", req.OperationName), nil)
		}
		return nil
	}

	vars, err := gqlvalidator.VariableValues(e.schema, op, req.Variables)
	if err != nil {
		rc.Record(NewError(KindValidation, "%s", err.Error()), nil)
		return nil
	}

	var root *ast.Definition
	switch op.Operation {
	case ast.Query:
		root = e.schema.Query
	case ast.Mutation:
		root = e.schema.Mutation
	}
	if root == nil {
		rc.Record(NewError(KindValidation, "%s operations are not supported", op.Operation), nil)
		return nil
	}

	return &operation{Executor: e, rc: rc, doc: doc, op: op, root: root, vars: vars}
}

func (o *operation) run(ctx context.Context) *orderedmap.OrderedMap[string, any] {
	// Top-level mutation fields run one after another.
	return o.object(ctx, o.root, nil, o.op.SelectionSet, nil, o.op.Operation == ast.Mutation)
}

func (o *operation) object(ctx context.Context, def *ast.Definition, source any, set ast.SelectionSet, path ast.Path, serial bool) *orderedmap.OrderedMap[string, any] {
	grouped := orderedmap.New[string, []*ast.Field]()
	o.collect(def, set, grouped)

	keys := make([]string, 0, grouped.Len())
	groups := make([][]*ast.Field, 0, grouped.Len())
	for pair := grouped.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
		groups = append(groups, pair.Value)
	}

	values := make([]any, len(keys))
	if serial || len(keys) == 1 {
		for i := range keys {
			values[i] = o.field(ctx, def, source, groups[i], childPath(path, ast.PathName(keys[i])))
		}
	} else {
		var g errgroup.Group
		for i := range keys {
			g.Go(func() error {
				values[i] = o.field(ctx, def, source, groups[i], childPath(path, ast.PathName(keys[i])))
				return nil
			})
		}
		_ = g.Wait()
	}

	out := orderedmap.New[string, any]()
	for i, key := range keys {
		out.Set(key, values[i])
	}
	return out
}

// collect groups the selected fields by response key, in query order.
func (o *operation) collect(def *ast.Definition, set ast.SelectionSet, into *orderedmap.OrderedMap[string, []*ast.Field]) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if !o.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			existing, _ := into.Get(key)
			into.Set(key, append(existing, s))
		case *ast.InlineFragment:
			if o.included(s.Directives) && applies(def, s.TypeCondition) {
				o.collect(def, s.SelectionSet, into)
			}
		case *ast.FragmentSpread:
			if !o.included(s.Directives) {
				continue
			}
			frag := s.Definition
			if frag == nil {
				frag = o.doc.Fragments.ForName(s.Name)
			}
			if frag != nil && applies(def, frag.TypeCondition) {
				o.collect(def, frag.SelectionSet, into)
			}
		}
	}
}

func (o *operation) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(o.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(o.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

func applies(def *ast.Definition, condition string) bool {
	if condition == "" || condition == def.Name {
		return true
	}
	for _, iface := range def.Interfaces {
		if iface == condition {
			return true
		}
	}
	return false
}

// field resolves one response key. Failures are recorded and the field
// becomes null.
func (o *operation) field(ctx context.Context, def *ast.Definition, source any, fields []*ast.Field, path ast.Path) any {
	f := fields[0]
	if f.Name == "__typename" {
		return def.Name
	}
	if f.Definition == nil {
		return nil
	}

	value, err := o.call(ctx, def, source, f, path)
	if err != nil {
		o.rc.Record(err, path)
		return nil
	}
	return o.complete(ctx, f.Definition.Type, fields, value, path)
}

func (o *operation) call(ctx context.Context, def *ast.Definition, source any, f *ast.Field, path ast.Path) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic resolving %s.%s: %v", def.Name, f.Name, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn := o.resolvers[def.Name][f.Name]; fn != nil {
		return fn(ctx, ResolveParams{
			Source: source,
			Args:   f.ArgumentMap(o.vars),
			Field:  f,
			Path:   path,
		})
	}
	return o.defaultResolve(source, f.Name)
}

func (o *operation) complete(ctx context.Context, typ *ast.Type, fields []*ast.Field, value any, path ast.Path) any {
	if isNil(value) {
		return nil
	}

	if typ.Elem != nil {
		rv := reflect.Indirect(reflect.ValueOf(value))
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			o.rc.Record(errors.Newf("%s resolved to %T, not a list", typ, value), path)
			return nil
		}
		// Items resolve concurrently so that their loads share windows.
		out := make([]any, rv.Len())
		var g errgroup.Group
		for i := range out {
			item := rv.Index(i).Interface()
			g.Go(func() error {
				out[i] = o.complete(ctx, typ.Elem, fields, item, childPath(path, ast.PathIndex(i)))
				return nil
			})
		}
		_ = g.Wait()
		return out
	}

	def := o.schema.Types[typ.NamedType]
	if def == nil {
		o.rc.Record(errors.Newf("unknown type %s", typ.NamedType), path)
		return nil
	}
	switch def.Kind {
	case ast.Object:
		var set ast.SelectionSet
		for _, f := range fields {
			set = append(set, f.SelectionSet...)
		}
		return o.object(ctx, def, value, set, path, false)
	case ast.Scalar:
		return serializeScalar(def.Name, value)
	case ast.Enum:
		return fmt.Sprint(deref(value))
	default:
		o.rc.Record(errors.Newf("%s types are not supported", def.Kind), path)
		return nil
	}
}

func (e *Executor) defaultResolve(source any, name string) (any, error) {
	if source == nil {
		return nil, nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[name], nil
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Newf("cannot read field %q from %T", name, source)
	}

	index, ok := e.fieldIndex(rv.Type(), name)
	if !ok {
		return nil, errors.Newf("%s has no field %q", rv.Type(), name)
	}
	fv, err := rv.FieldByIndexErr(index)
	if err != nil {
		// Promoted through a nil embedded pointer.
		return nil, nil
	}
	return fv.Interface(), nil
}

func (e *Executor) fieldIndex(t reflect.Type, name string) ([]int, bool) {
	cached, ok := e.fieldIndexes.Load(t)
	if !ok {
		index := make(map[string][]int)
		for _, f := range reflect.VisibleFields(t) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
				if _, taken := index[tag]; !taken {
					index[tag] = f.Index
				}
			}
			lower := strings.ToLower(f.Name)
			if _, taken := index[lower]; !taken {
				index[lower] = f.Index
			}
		}
		cached, _ = e.fieldIndexes.LoadOrStore(t, index)
	}
	index := cached.(map[string][]int)
	if i, ok := index[name]; ok {
		return i, true
	}
	i, ok := index[strings.ToLower(name)]
	return i, ok
}

func serializeScalar(name string, value any) any {
	value = deref(value)
	switch name {
	case "ID":
		return fmt.Sprint(value)
	case "Time":
		if t, ok := value.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return value
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func childPath(parent ast.Path, elem ast.PathElement) ast.Path {
	p := make(ast.Path, len(parent)+1)
	copy(p, parent)
	p[len(parent)] = elem
	return p
}
