package notify

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

// StoreSink persists notifications to the database.
type StoreSink struct {
	DB *sqlx.DB
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, batch []model.Notification) error {
	return store.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		return store.CreateNotifications(ctx, tx, batch)
	})
}
