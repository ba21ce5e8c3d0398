// Package resolvers binds the JobQuest schema to the batch loader and the
// job services.
package resolvers

import (
	"context"
	_ "embed"

	"github.com/goccy/go-json"
	"github.com/kevinhust/CAA900-sub003/internal/dtos"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/execution"
	"github.com/kevinhust/CAA900-sub003/internal/loader"
	"github.com/kevinhust/CAA900-sub003/internal/models"
	"github.com/kevinhust/CAA900-sub003/internal/services"
	"github.com/kevinhust/CAA900-sub003/internal/store"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphql
var sdl string

// Schema parses the JobQuest schema.
func Schema() (*ast.Schema, error) {
	return execution.LoadSchema("schema.graphql", sdl)
}

var errNoLoader = errors.New("request has no batch loader")

// Resolver holds the services mutations delegate to. Reads go through the
// request's loader.
type Resolver struct {
	Jobs *services.JobService
	LLM  *services.LLMService
}

func New(jobs *services.JobService, llm *services.LLMService) *Resolver {
	return &Resolver{Jobs: jobs, LLM: llm}
}

// Map returns the field resolvers for the executor.
func (r *Resolver) Map() execution.Resolvers {
	return execution.Resolvers{
		"Query": {
			"job":        r.job,
			"jobs":       r.jobs,
			"company":    r.company,
			"user":       r.user,
			"me":         r.me,
			"searchJobs": r.searchJobs,
		},
		"Mutation": {
			"createJob":       r.createJob,
			"updateJobStatus": r.updateJobStatus,
			"applyToJob":      r.applyToJob,
			"extractJob":      r.extractJob,
		},
		"Job": {
			"company":       jobCompany,
			"postedBy":      jobPostedBy,
			"events":        jobEvents,
			"myApplication": jobMyApplication,
		},
		"Company": {
			"jobs": companyJobs,
		},
		"User": {
			"applications": userApplications,
		},
		"JobApplication": {
			"job":  applicationJob,
			"user": applicationUser,
		},
	}
}

func (r *Resolver) job(ctx context.Context, p execution.ResolveParams) (any, error) {
	return required[models.Job](ctx, store.EntityJob, p.Args["id"])
}

// jobs keeps the order of ids. Unknown ids are null entries.
func (r *Resolver) jobs(ctx context.Context, p execution.ResolveParams) (any, error) {
	l := loader.FromContext(ctx)
	if l == nil {
		return nil, errNoLoader
	}
	ids, _ := p.Args["ids"].([]any)
	results, err := l.LoadMany(ctx, store.EntityJob, ids)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(results))
	for i, res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Found {
			out[i] = res.Value
		}
	}
	return out, nil
}

func (r *Resolver) company(ctx context.Context, p execution.ResolveParams) (any, error) {
	return required[models.Company](ctx, store.EntityCompany, p.Args["id"])
}

func (r *Resolver) user(ctx context.Context, p execution.ResolveParams) (any, error) {
	return required[models.User](ctx, store.EntityUser, p.Args["id"])
}

func (r *Resolver) me(ctx context.Context, _ execution.ResolveParams) (any, error) {
	uid, err := subject(ctx)
	if err != nil {
		return nil, err
	}
	return required[models.User](ctx, store.EntityUser, uid)
}

func (r *Resolver) searchJobs(ctx context.Context, p execution.ResolveParams) (any, error) {
	return r.Jobs.SearchJobs(ctx, dtos.SearchJobsInput{
		Query:    stringArg(p.Args, "query"),
		Location: stringArg(p.Args, "location"),
		Status:   stringArg(p.Args, "status"),
		Limit:    intArg(p.Args, "limit", 20),
		Offset:   intArg(p.Args, "offset", 0),
	})
}

func (r *Resolver) createJob(ctx context.Context, p execution.ResolveParams) (any, error) {
	var in dtos.CreateJobInput
	if err := decodeInput(p.Args["input"], &in); err != nil {
		return nil, err
	}
	if uid, err := subject(ctx); err == nil {
		in.PostedByID = &uid
	}

	job, err := r.Jobs.CreateJob(ctx, in)
	if err != nil {
		return nil, err
	}
	refresh(ctx, *job, loader.Key{Entity: store.EntityCompanyJobs, ID: job.CompanyID})
	return job, nil
}

func (r *Resolver) updateJobStatus(ctx context.Context, p execution.ResolveParams) (any, error) {
	id, err := store.UintID(p.Args["id"])
	if err != nil {
		return nil, err
	}
	job, err := r.Jobs.UpdateJobStatus(ctx, dtos.UpdateJobStatusInput{
		JobID:  id,
		Status: stringArg(p.Args, "status"),
	})
	if err != nil {
		return nil, err
	}
	refresh(ctx, *job,
		loader.Key{Entity: store.EntityJobEvents, ID: job.ID},
		loader.Key{Entity: store.EntityCompanyJobs, ID: job.CompanyID},
	)
	return job, nil
}

func (r *Resolver) applyToJob(ctx context.Context, p execution.ResolveParams) (any, error) {
	uid, err := subject(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := store.UintID(p.Args["jobId"])
	if err != nil {
		return nil, err
	}

	app, err := r.Jobs.ApplyToJob(ctx, dtos.ApplyToJobInput{
		UserID: uid,
		JobID:  jobID,
		Notes:  stringArg(p.Args, "notes"),
	})
	if err != nil {
		return nil, err
	}

	if l := loader.FromContext(ctx); l != nil {
		key := models.ApplicationKey{UserID: uid, JobID: jobID}
		l.Clear(store.EntityJobApplication, key)
		l.Clear(store.EntityUserApplications, uid)
		l.Clear(store.EntityJobEvents, jobID)
		l.Prime(store.EntityJobApplication, key, *app)
	}
	return app, nil
}

func (r *Resolver) extractJob(ctx context.Context, p execution.ResolveParams) (any, error) {
	return r.LLM.ExtractJobDetails(ctx, stringArg(p.Args, "rawHtml"))
}

func jobCompany(ctx context.Context, p execution.ResolveParams) (any, error) {
	job, err := parent[models.Job](p)
	if err != nil {
		return nil, err
	}
	return related[models.Company](ctx, store.EntityCompany, job.CompanyID)
}

func jobPostedBy(ctx context.Context, p execution.ResolveParams) (any, error) {
	job, err := parent[models.Job](p)
	if err != nil || job.PostedByID == nil {
		return nil, err
	}
	return related[models.User](ctx, store.EntityUser, *job.PostedByID)
}

func jobEvents(ctx context.Context, p execution.ResolveParams) (any, error) {
	job, err := parent[models.Job](p)
	if err != nil {
		return nil, err
	}
	return related[[]models.JobEvent](ctx, store.EntityJobEvents, job.ID)
}

// jobMyApplication is null for anonymous callers.
func jobMyApplication(ctx context.Context, p execution.ResolveParams) (any, error) {
	job, err := parent[models.Job](p)
	if err != nil {
		return nil, err
	}
	uid, err := subject(ctx)
	if err != nil {
		return nil, nil
	}
	return related[models.JobApplication](ctx, store.EntityJobApplication, models.ApplicationKey{UserID: uid, JobID: job.ID})
}

func companyJobs(ctx context.Context, p execution.ResolveParams) (any, error) {
	company, err := parent[models.Company](p)
	if err != nil {
		return nil, err
	}
	return related[[]models.Job](ctx, store.EntityCompanyJobs, company.ID)
}

func userApplications(ctx context.Context, p execution.ResolveParams) (any, error) {
	user, err := parent[models.User](p)
	if err != nil {
		return nil, err
	}
	return related[[]models.JobApplication](ctx, store.EntityUserApplications, user.ID)
}

func applicationJob(ctx context.Context, p execution.ResolveParams) (any, error) {
	app, err := parent[models.JobApplication](p)
	if err != nil {
		return nil, err
	}
	return related[models.Job](ctx, store.EntityJob, app.JobID)
}

func applicationUser(ctx context.Context, p execution.ResolveParams) (any, error) {
	app, err := parent[models.JobApplication](p)
	if err != nil {
		return nil, err
	}
	return related[models.User](ctx, store.EntityUser, app.UserID)
}

// required loads a top-level entity; a missing one is NOT_FOUND.
func required[V any](ctx context.Context, entity store.Entity, id any) (any, error) {
	l := loader.FromContext(ctx)
	if l == nil {
		return nil, errNoLoader
	}
	v, ok, err := loader.LoadAs[V](ctx, l, entity, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFoundError("%s %v was not found", entity, id)
	}
	return v, nil
}

// related loads a nested entity; a missing one is null.
func related[V any](ctx context.Context, entity store.Entity, id any) (any, error) {
	l := loader.FromContext(ctx)
	if l == nil {
		return nil, errNoLoader
	}
	v, ok, err := loader.LoadAs[V](ctx, l, entity, id)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// refresh makes the rest of the request see a mutated job: the stale memo
// entries go and the new row is primed.
func refresh(ctx context.Context, job models.Job, stale ...loader.Key) {
	l := loader.FromContext(ctx)
	if l == nil {
		return
	}
	l.Clear(store.EntityJob, job.ID)
	for _, k := range stale {
		l.Clear(k.Entity, k.ID)
	}
	l.Prime(store.EntityJob, job.ID, job)
}

// parent accepts both the loaded value and the pointer mutations return.
func parent[T any](p execution.ResolveParams) (T, error) {
	switch v := p.Source.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, errors.Newf("unexpected parent %T at %s", p.Source, p.Path)
}

// subject is the authenticated caller's user id.
func subject(ctx context.Context) (uint, error) {
	s, ok := execution.SubjectFromContext(ctx)
	if !ok {
		return 0, errors.Mark(errors.New("authentication required"), errors.ErrUnauthorized)
	}
	id, err := store.UintID(s)
	if err != nil {
		return 0, errors.Mark(errors.Newf("invalid subject %q", s), errors.ErrUnauthorized)
	}
	return id, nil
}

func decodeInput(arg any, dst any) error {
	raw, err := json.Marshal(arg)
	if err != nil {
		return errors.Wrap(err, "encode input")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Mark(errors.Wrap(err, "decode input"), errors.ErrInvalidRequest)
	}
	return nil
}

func stringArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

// intArg reads an Int argument as a literal (int64) or a JSON variable
// (float64 or json.Number).
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
