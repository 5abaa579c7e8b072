package repository

import (
	"context"

	"gorm.io/gorm"
)

// DatastoreProvider returns a database handle, a read replica when readOnly is set.
// frame.Service.DB satisfies it.
type DatastoreProvider func(ctx context.Context, readOnly bool) *gorm.DB

type abstractRepository struct {
	db DatastoreProvider
}

func (ar *abstractRepository) readDB(ctx context.Context) *gorm.DB {
	return ar.db(ctx, true)
}

func (ar *abstractRepository) writeDB(ctx context.Context) *gorm.DB {
	return ar.db(ctx, false)
}
