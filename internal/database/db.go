package database

import (
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the Postgres connection pool and, when migrate is set,
// creates the tables for every model.
func Connect(dsn string, migrate bool, log *zap.SugaredLogger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.MarkUpstream(err, "failed to connect to database")
	}

	log.Infow("Database connection established")

	if migrate {
		log.Infow("Running migrations")
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, errors.Wrap(err, "failed to run migrations")
		}
	}
	return db, nil
}
