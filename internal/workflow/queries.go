package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/imaging"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

// Viewer identifies who an item is being read for.
type Viewer struct {
	UserID int64
	Role   string
}

func (v Viewer) canModerate() bool {
	return model.RoleAtLeast(v.Role, model.RoleReviewer)
}

// CanSee reports whether v may read item. Approved and redeemed items are
// public; pending and rejected items are visible to their donor and to
// reviewers and administrators.
func (v Viewer) CanSee(item *model.Item) bool {
	switch item.Status {
	case model.ItemStatusApproved, model.ItemStatusRedeemed:
		return true
	}
	return item.DonorID == v.UserID || v.canModerate()
}

// VisibleFilter narrows f to what v may list. Reviewers and administrators
// see everything; others see approved and redeemed items plus their own.
func VisibleFilter(v Viewer, f model.ItemFilter) model.ItemFilter {
	if v.canModerate() {
		return f
	}
	f.VisibleStatuses = []string{model.ItemStatusApproved, model.ItemStatusRedeemed}
	f.VisibleOwner = v.UserID
	return f
}

// GetItem returns an item if v may see it. Hidden items report not_found.
func (s *Service) GetItem(ctx context.Context, v Viewer, id int64) (*model.Item, error) {
	item, err := s.item(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.CanSee(item) {
		return nil, apperr.New(apperr.CodeNotFound, "item not found")
	}
	return item, nil
}

// Ledger returns a user's ledger entries, newest first.
func (s *Service) Ledger(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	entries, err := store.ListLedgerEntries(ctx, s.db, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return entries, nil
}

// Reconcile derives a user's balance from completed ledger entries and
// compares it with the stored balance.
func (s *Service) Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error) {
	var rec *model.Reconciliation
	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		u, err := store.GetUser(ctx, tx, userID)
		if err != nil || u == nil {
			return err
		}
		awarded, debited, err := store.LedgerTotals(ctx, tx, userID)
		if err != nil {
			return err
		}
		rec = &model.Reconciliation{
			UserID:  userID,
			Cached:  u.Points,
			Awarded: awarded,
			Debited: debited,
			Derived: awarded - debited,
		}
		rec.Balanced = rec.Cached == rec.Derived
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if rec == nil {
		return nil, apperr.New(apperr.CodeNotFound, "user not found")
	}
	if !rec.Balanced {
		slog.ErrorContext(ctx, "balance does not match ledger",
			"user", userID, "cached", rec.Cached, "derived", rec.Derived)
	}
	return rec, nil
}

// AddImage processes an uploaded photo and appends it to a pending item.
// Only the donor may add images.
func (s *Service) AddImage(ctx context.Context, v Viewer, itemID int64, r io.Reader) (*model.Item, error) {
	item, err := s.item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.DonorID != v.UserID {
		if v.CanSee(item) {
			return nil, apperr.New(apperr.CodeForbidden, "only the donor can add images")
		}
		return nil, apperr.New(apperr.CodeNotFound, "item not found")
	}
	if item.Status != model.ItemStatusPending {
		return nil, apperr.New(apperr.CodeInvalidState, "images can only be added while the item is pending")
	}

	img, err := imaging.Process(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "image must be a valid JPEG, PNG or WebP", err)
	}

	errLimit := apperr.New(apperr.CodeValidation, fmt.Sprintf("at most %d images are allowed", s.maxImages))
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		n, err := store.CountItemImages(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if n >= s.maxImages {
			return errLimit
		}
		_, err = store.AddItemImage(ctx, tx, itemID, img.Data, img.MIME)
		return err
	})
	if errors.Is(err, errLimit) {
		return nil, errLimit
	}
	if errors.Is(err, store.ErrStateChanged) {
		return nil, apperr.Wrap(apperr.CodeInvalidState, "images can only be added while the item is pending", err)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	slog.InfoContext(ctx, "item image added", "item", itemID, "user", v.UserID, "bytes", len(img.Data))
	return s.item(ctx, itemID)
}

// Image returns a stored image for an item v may see.
func (s *Service) Image(ctx context.Context, v Viewer, itemID int64, position int) (*store.ItemImage, error) {
	if _, err := s.GetItem(ctx, v, itemID); err != nil {
		return nil, err
	}
	img, err := store.GetItemImage(ctx, s.db, itemID, position)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if img == nil {
		return nil, apperr.New(apperr.CodeNotFound, "image not found")
	}
	return img, nil
}
