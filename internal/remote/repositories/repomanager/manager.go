package repomanager

import (
	"context"
	"database/sql"

	"github.com/quyen-luc/prices-app/internal/remote/repositories/products"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Products(src products.Source) products.Repository
}
