package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/kevinhust/CAA900-sub003/internal/cache"
	"github.com/kevinhust/CAA900-sub003/internal/dtos"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T, backend cache.Backend) (*JobService, sqlmock.Sqlmock, *cache.Layer) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	if backend == nil {
		backend = cache.NewMemoryBackend()
	}
	layer := cache.NewLayer(backend)
	return NewJobService(db, layer, zaptest.NewLogger(t).Sugar()), mock, layer
}

func TestCreateJob(t *testing.T) {
	ctx := context.Background()
	svc, mock, layer := newTestService(t, nil)

	require.NoError(t, layer.SetEntity(ctx, "company_jobs", uint(10), []models.Job{}))
	require.NoError(t, layer.Set(ctx, "search:abcd1234", []models.Job{}, time.Minute, SearchTag))
	require.NoError(t, layer.SetEntity(ctx, "company_jobs", uint(11), []models.Job{}))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "companies" WHERE "companies"."name" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))
	mock.ExpectQuery(`INSERT INTO "companies"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery(`INSERT INTO "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(`INSERT INTO "job_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	job, err := svc.CreateJob(ctx, dtos.CreateJobInput{
		CompanyName: "Acme",
		Title:       "Backend Engineer",
		JobLink:     "https://acme.example/jobs/7",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), job.ID)
	assert.Equal(t, uint(10), job.CompanyID)
	assert.Equal(t, models.JobStatusOpen, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())

	ok, _ := layer.GetEntity(ctx, "company_jobs", uint(10), &[]models.Job{})
	assert.False(t, ok, "the company's job list is invalidated")
	ok, _ = layer.Get(ctx, "search:abcd1234", &[]models.Job{})
	assert.False(t, ok, "searches are invalidated")
	ok, _ = layer.GetEntity(ctx, "company_jobs", uint(11), &[]models.Job{})
	assert.True(t, ok, "other companies are untouched")
}

func TestCreateJobValidation(t *testing.T) {
	svc, mock, _ := newTestService(t, nil)

	_, err := svc.CreateJob(context.Background(), dtos.CreateJobInput{Title: "No company", JobLink: "not a url"})
	require.Error(t, err)

	var invalid validator.ValidationErrors
	require.True(t, errors.As(err, &invalid))
	fields := map[string]bool{}
	for _, fe := range invalid {
		fields[fe.Field()] = true
	}
	assert.Equal(t, map[string]bool{"companyName": true, "jobLink": true}, fields)
	require.NoError(t, mock.ExpectationsWereMet(), "nothing reaches the database")
}

func TestCreateJobStoreFailure(t *testing.T) {
	svc, mock, _ := newTestService(t, nil)

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := svc.CreateJob(context.Background(), dtos.CreateJobInput{CompanyName: "Acme", Title: "SRE"})
	require.Error(t, err)
	assert.True(t, errors.IsUpstream(err))
}

func TestUpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	svc, mock, layer := newTestService(t, nil)

	require.NoError(t, layer.SetEntity(ctx, "job", uint(7), models.Job{ID: 7, Status: "OPEN"}))
	require.NoError(t, layer.SetEntity(ctx, "job_events", uint(7), []models.JobEvent{}))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE "jobs"."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "title", "status"}).AddRow(7, 10, "SRE", "OPEN"))
	mock.ExpectExec(`UPDATE "jobs" SET "status"=\$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "job_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectCommit()

	job, err := svc.UpdateJobStatus(ctx, dtos.UpdateJobStatusInput{JobID: 7, Status: "CLOSED"})
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", job.Status)
	require.NoError(t, mock.ExpectationsWereMet())

	// The cache-then-mutate scenario: the pre-mutation job must not be served.
	ok, _ := layer.GetEntity(ctx, "job", uint(7), &models.Job{})
	assert.False(t, ok)
	ok, _ = layer.GetEntity(ctx, "job_events", uint(7), &[]models.JobEvent{})
	assert.False(t, ok)
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	svc, mock, _ := newTestService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := svc.UpdateJobStatus(context.Background(), dtos.UpdateJobStatusInput{JobID: 99, Status: "CLOSED"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.False(t, errors.IsUpstream(err))
}

func TestUpdateJobStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.UpdateJobStatus(context.Background(), dtos.UpdateJobStatusInput{JobID: 7, Status: "ARCHIVED"})
	var invalid validator.ValidationErrors
	assert.True(t, errors.As(err, &invalid))
}

func TestApplyToJob(t *testing.T) {
	ctx := context.Background()
	svc, mock, layer := newTestService(t, nil)
	require.NoError(t, layer.SetEntity(ctx, "user_applications", uint(3), []models.JobApplication{}))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, "OPEN"))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "job_applications"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO "job_applications"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(`INSERT INTO "job_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectCommit()

	app, err := svc.ApplyToJob(ctx, dtos.ApplyToJobInput{UserID: 3, JobID: 7})
	require.NoError(t, err)
	assert.Equal(t, uint(5), app.ID)
	assert.Equal(t, models.JobStatusApplied, app.Status)
	require.NoError(t, mock.ExpectationsWereMet())

	ok, _ := layer.GetEntity(ctx, "user_applications", uint(3), &[]models.JobApplication{})
	assert.False(t, ok)
}

func TestApplyToJobTwice(t *testing.T) {
	svc, mock, _ := newTestService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, "OPEN"))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "job_applications"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := svc.ApplyToJob(context.Background(), dtos.ApplyToJobInput{UserID: 3, JobID: 7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSearchJobsIsCached(t *testing.T) {
	ctx := context.Background()
	svc, mock, _ := newTestService(t, nil)

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE .*LOWER\(title\) LIKE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "Go Developer").AddRow(2, "Senior Go Engineer"))

	in := dtos.SearchJobsInput{Query: "Go", Limit: 10}
	first, err := svc.SearchJobs(ctx, in)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := svc.SearchJobs(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first[1].Title, second[1].Title)
	require.NoError(t, mock.ExpectationsWereMet(), "the second search is served from cache")
}

func TestSearchJobsValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.SearchJobs(context.Background(), dtos.SearchJobsInput{Limit: 500})
	var invalid validator.ValidationErrors
	assert.True(t, errors.As(err, &invalid))
}

type brokenBackend struct{ cache.Backend }

func (brokenBackend) Invalidate(context.Context, string) (int, error) {
	return 0, errors.MarkUpstream(errors.New("connection refused"), "redis scan")
}

func TestMutationFailsWhenInvalidationFails(t *testing.T) {
	svc, mock, _ := newTestService(t, brokenBackend{cache.NewMemoryBackend()})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "companies"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(10, "Acme"))
	mock.ExpectQuery(`INSERT INTO "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectQuery(`INSERT INTO "job_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectCommit()

	_, err := svc.CreateJob(context.Background(), dtos.CreateJobInput{CompanyName: "Acme", Title: "SRE"})
	require.Error(t, err)
	assert.True(t, errors.IsUpstream(err))
}
