package store

import (
	"context"

	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/models"
	"gorm.io/gorm"
)

// NewGormRegistry registers a Postgres-backed bulk lookup for every entity.
func NewGormRegistry(db *gorm.DB) *Registry {
	r := NewRegistry()

	Register(r, EntityUser, byID(db, func(u models.User) uint { return u.ID }))
	Register(r, EntityCompany, byID(db, func(c models.Company) uint { return c.ID }))
	Register(r, EntityJob, byID(db, func(j models.Job) uint { return j.ID }))

	Register(r, EntityCompanyJobs, groupedBy(db, "company_id", func(j models.Job) uint { return j.CompanyID }))
	Register(r, EntityJobEvents, groupedBy(db, "job_id", func(e models.JobEvent) uint { return e.JobID }))
	Register(r, EntityUserApplications, groupedBy(db, "user_id", func(a models.JobApplication) uint { return a.UserID }))

	Register(r, EntityJobApplication, applicationsByKey(db))

	return r
}

// byID loads rows by primary key with a single IN query.
func byID[V any](db *gorm.DB, id func(V) uint) BulkFunc[uint, V] {
	return func(ctx context.Context, ids []uint) (map[uint]V, error) {
		var rows []V
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, errors.MarkUpstream(err, "bulk fetch by id")
		}
		out := make(map[uint]V, len(rows))
		for _, row := range rows {
			out[id(row)] = row
		}
		return out, nil
	}
}

// groupedBy loads child rows for many parents with one query on the foreign
// key column. Every requested parent resolves, to an empty list when it has
// no children.
func groupedBy[V any](db *gorm.DB, column string, parent func(V) uint) BulkFunc[uint, []V] {
	return func(ctx context.Context, ids []uint) (map[uint][]V, error) {
		var rows []V
		err := db.WithContext(ctx).
			Where(column+" IN ?", ids).
			Order("id").
			Find(&rows).Error
		if err != nil {
			return nil, errors.MarkUpstream(err, "bulk fetch by "+column)
		}
		out := make(map[uint][]V, len(ids))
		for _, id := range ids {
			out[id] = []V{}
		}
		for _, row := range rows {
			p := parent(row)
			out[p] = append(out[p], row)
		}
		return out, nil
	}
}

func applicationsByKey(db *gorm.DB) BulkFunc[models.ApplicationKey, models.JobApplication] {
	return func(ctx context.Context, keys []models.ApplicationKey) (map[models.ApplicationKey]models.JobApplication, error) {
		pairs := make([][]interface{}, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, []interface{}{k.UserID, k.JobID})
		}
		var rows []models.JobApplication
		if err := db.WithContext(ctx).Where("(user_id, job_id) IN ?", pairs).Find(&rows).Error; err != nil {
			return nil, errors.MarkUpstream(err, "bulk fetch job applications")
		}
		out := make(map[models.ApplicationKey]models.JobApplication, len(rows))
		for _, row := range rows {
			out[models.ApplicationKey{UserID: row.UserID, JobID: row.JobID}] = row
		}
		return out, nil
	}
}
