package services

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kevinhust/CAA900-sub003/internal/cache"
	"github.com/kevinhust/CAA900-sub003/internal/dtos"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/logger"
	"github.com/kevinhust/CAA900-sub003/internal/models"
	"github.com/kevinhust/CAA900-sub003/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Job event types written alongside every job mutation.
const (
	EventCreated       = "CREATED"
	EventStatusChanged = "STATUS_CHANGED"
	EventApplied       = "APPLIED"
)

// SearchTag is carried by every cached search result.
const SearchTag = "search"

type JobService struct {
	DB       *gorm.DB
	Cache    *cache.Layer
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewJobService(db *gorm.DB, c *cache.Layer, log *zap.SugaredLogger) *JobService {
	return &JobService{
		DB:       db,
		Cache:    c,
		validate: newValidator(),
		log:      logger.Named(log, "jobs"),
	}
}

// newValidator reports fields by their json name, which is what callers sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// CreateJob stores a job, creating its company on first use.
func (s *JobService) CreateJob(ctx context.Context, in dtos.CreateJobInput) (*models.Job, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(err, "create job")
	}

	var job models.Job
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var company models.Company
		// it creates the company if it doesn't exist yet
		if err := tx.Where(models.Company{Name: in.CompanyName}).FirstOrCreate(&company).Error; err != nil {
			return err
		}
		job = models.Job{
			CompanyID:   company.ID,
			PostedByID:  in.PostedByID,
			Title:       in.Title,
			Description: in.Description,
			Location:    in.Location,
			JobLink:     in.JobLink,
			Status:      models.JobStatusOpen,
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		return tx.Create(&models.JobEvent{JobID: job.ID, EventType: EventCreated}).Error
	})
	if err != nil {
		return nil, errors.MarkUpstream(err, "create job")
	}

	if err := s.invalidate(ctx,
		cache.EntityPattern(string(store.EntityCompanyJobs), job.CompanyID),
		SearchTag+"*",
	); err != nil {
		return nil, err
	}
	s.log.Infow("Job created", "job_id", job.ID, "company_id", job.CompanyID)
	return &job, nil
}

// UpdateJobStatus moves a job to a new status and records the transition.
func (s *JobService) UpdateJobStatus(ctx context.Context, in dtos.UpdateJobStatusInput) (*models.Job, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(err, "update job status")
	}

	var job models.Job
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, in.JobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NewNotFoundError("job %d was not found", in.JobID)
			}
			return err
		}
		previous := job.Status
		if err := tx.Model(&job).Update("status", in.Status).Error; err != nil {
			return err
		}
		job.Status = in.Status
		return tx.Create(&models.JobEvent{
			JobID:     job.ID,
			EventType: EventStatusChanged,
			Details:   fmt.Sprintf("%s -> %s", previous, in.Status),
		}).Error
	})
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, err
		}
		return nil, errors.MarkUpstream(err, "update job status")
	}

	if err := s.invalidate(ctx,
		cache.EntityPattern(string(store.EntityJob), job.ID),
		cache.EntityPattern(string(store.EntityJobEvents), job.ID),
		cache.EntityPattern(string(store.EntityCompanyJobs), job.CompanyID),
		SearchTag+"*",
	); err != nil {
		return nil, err
	}
	return &job, nil
}

// ApplyToJob records the user's application. Applying twice is rejected.
func (s *JobService) ApplyToJob(ctx context.Context, in dtos.ApplyToJobInput) (*models.JobApplication, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(err, "apply to job")
	}

	var application models.JobApplication
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, in.JobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NewNotFoundError("job %d was not found", in.JobID)
			}
			return err
		}
		if job.Status == models.JobStatusClosed {
			return errors.NewInvalidRequestError("job %d is closed", in.JobID)
		}

		var existing int64
		if err := tx.Model(&models.JobApplication{}).
			Where("user_id = ? AND job_id = ?", in.UserID, in.JobID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errors.NewInvalidRequestError("user %d already applied to job %d", in.UserID, in.JobID)
		}

		application = models.JobApplication{
			UserID: in.UserID,
			JobID:  in.JobID,
			Status: models.JobStatusApplied,
			Notes:  in.Notes,
		}
		if err := tx.Create(&application).Error; err != nil {
			return err
		}
		return tx.Create(&models.JobEvent{
			JobID:     in.JobID,
			EventType: EventApplied,
			Details:   fmt.Sprintf("user %d", in.UserID),
		}).Error
	})
	if err != nil {
		if errors.IsAny(err, errors.ErrNotFound, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.MarkUpstream(err, "apply to job")
	}

	key := models.ApplicationKey{UserID: in.UserID, JobID: in.JobID}
	if err := s.invalidate(ctx,
		cache.EntityPattern(string(store.EntityJobApplication), key),
		cache.EntityPattern(string(store.EntityUserApplications), in.UserID),
		cache.EntityPattern(string(store.EntityJobEvents), in.JobID),
	); err != nil {
		return nil, err
	}
	return &application, nil
}

// SearchJobs is a cached, parameterised listing. Results are tagged with
// SearchTag so any job mutation drops them.
func (s *JobService) SearchJobs(ctx context.Context, in dtos.SearchJobsInput) ([]models.Job, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Wrap(err, "search jobs")
	}

	var jobs []models.Job
	key := cache.SearchKey(SearchTag, in.Params())
	err := s.Cache.Fetch(ctx, key, s.Cache.TTL(SearchTag), []string{SearchTag}, &jobs, func(ctx context.Context) (any, error) {
		return s.searchStore(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *JobService) searchStore(ctx context.Context, in dtos.SearchJobsInput) ([]models.Job, error) {
	q := s.DB.WithContext(ctx).Model(&models.Job{})
	if in.Query != "" {
		like := "%" + strings.ToLower(in.Query) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	if in.Location != "" {
		q = q.Where("LOWER(location) LIKE ?", "%"+strings.ToLower(in.Location)+"%")
	}
	if in.Status != "" {
		q = q.Where("status = ?", in.Status)
	}

	jobs := []models.Job{}
	if err := q.Order("created_at DESC").Order("id DESC").Limit(in.Limit).Offset(in.Offset).Find(&jobs).Error; err != nil {
		return nil, errors.MarkUpstream(err, "search jobs")
	}
	return jobs, nil
}

// invalidate runs before the mutation returns. A failure means stale reads
// could follow, so the mutation reports it.
func (s *JobService) invalidate(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		if _, err := s.Cache.Invalidate(ctx, pattern); err != nil {
			s.log.Errorw("Cache invalidation failed", logger.FieldPattern, pattern, logger.FieldError, err)
			return errors.MarkUpstream(err, "invalidate cache")
		}
	}
	return nil
}
