package cron

import (
	"context"

	"gorm.io/gorm"
)

// txRunner abstracts the transaction boundary shared by the jobs.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
