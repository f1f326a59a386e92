// Package workflow implements the item lifecycle and the point ledger:
// submission, review, redemption and the queries around them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/metrics"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

// Notifier accepts notifications produced by committed transitions. It must
// not block and has no way to fail the caller.
type Notifier interface {
	Enqueue(ctx context.Context, notifications []model.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Enqueue(context.Context, []model.Notification) {}

// Review decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Service orchestrates item transitions across users, items and the ledger.
type Service struct {
	db        *sqlx.DB
	notifier  Notifier
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	maxImages int
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where notifications are sent after each transition.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxImages caps the number of images per item, up to model.MaxImages.
func WithMaxImages(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= model.MaxImages {
			s.maxImages = n
		}
	}
}

// New creates a Service backed by db.
func New(db *sqlx.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	s := &Service{
		db:        db,
		notifier:  nopNotifier{},
		tracer:    otel.Tracer("github.com/erazemk/podari/internal/workflow"),
		maxImages: model.MaxImages,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// observe starts a span and returns a function that ends it and records the
// outcome. Call the returned function with the operation's final error.
func (s *Service) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "workflow."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		s.metrics.ObserveOperation(op, outcome, time.Since(start))
	}
}

// Submit creates a pending item donated by contributorID and notifies every
// reviewer.
func (s *Service) Submit(ctx context.Context, contributorID int64, draft model.ItemDraft) (item *model.Item, err error) {
	ctx, done := s.observe(ctx, "submit", attribute.Int64("user.id", contributorID))
	defer func() { done(err) }()

	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}
	if len(draft.Images) > s.maxImages {
		return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("at most %d images are allowed", s.maxImages))
	}

	if _, err := s.actor(ctx, contributorID, model.RoleContributor); err != nil {
		return nil, err
	}

	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		item, err = store.CreateItem(ctx, tx, contributorID, draft)
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.New(apperr.CodeValidation, "an item with this ISBN already exists")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	slog.InfoContext(ctx, "item submitted", "item", item.ID, "user", contributorID, "reference_price", item.ReferencePrice)

	reviewers, err := store.ListUserIDsByRole(ctx, s.db, model.RoleReviewer)
	if err != nil {
		slog.WarnContext(ctx, "listing reviewers for notification", "item", item.ID, "error", err)
		return item, nil
	}
	batch := make([]model.Notification, 0, len(reviewers))
	for _, id := range reviewers {
		batch = append(batch, model.Notification{
			UserID:   id,
			Title:    "New item awaiting review",
			Message:  fmt.Sprintf("%q by %s was submitted and is waiting for review.", item.Title, item.Author),
			Category: model.NotifyItemSubmitted,
		})
	}
	s.notifier.Enqueue(ctx, batch)

	return item, nil
}

// Review approves or rejects a pending item. Approval fixes the redemption
// price and credits the donor's award in the same transaction. Of two
// concurrent reviews exactly one succeeds; the other gets invalid_state.
func (s *Service) Review(ctx context.Context, reviewerID, itemID int64, decision string) (item *model.Item, err error) {
	ctx, done := s.observe(ctx, "review",
		attribute.Int64("user.id", reviewerID),
		attribute.Int64("item.id", itemID),
		attribute.String("decision", decision),
	)
	defer func() { done(err) }()

	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperr.New(apperr.CodeValidation, `decision must be "approve" or "reject"`)
	}

	if _, err := s.actor(ctx, reviewerID, model.RoleReviewer); err != nil {
		return nil, err
	}

	current, err := s.item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.ItemStatusPending {
		return nil, apperr.New(apperr.CodeInvalidState, "item has already been reviewed")
	}

	var award int64
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if decision == DecisionReject {
			return store.RejectItem(ctx, tx, itemID, reviewerID)
		}

		if err := store.ApproveItem(ctx, tx, itemID, reviewerID, RedemptionPrice(current.ReferencePrice)); err != nil {
			return err
		}
		award = Award(current.ReferencePrice)
		if award == 0 {
			return nil
		}
		if err := store.CreditPoints(ctx, tx, current.DonorID, award); err != nil {
			return err
		}
		_, err := store.AppendLedgerEntry(ctx, tx, model.LedgerEntry{
			Kind:        model.LedgerKindAward,
			UserID:      current.DonorID,
			ItemID:      itemID,
			Amount:      award,
			Status:      model.LedgerStatusCompleted,
			Description: fmt.Sprintf("Award for %q", current.Title),
		})
		return err
	})
	switch {
	case errors.Is(err, store.ErrStateChanged):
		return nil, apperr.Wrap(apperr.CodeInvalidState, "item has already been reviewed", err)
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.Wrap(apperr.CodeNotFound, "item not found", err)
	case err != nil:
		return nil, apperr.Internal(err)
	}

	item, err = s.item(ctx, itemID)
	if err != nil {
		return nil, err
	}

	n := model.Notification{UserID: item.DonorID}
	if decision == DecisionApprove {
		s.metrics.AddPointsAwarded(award)
		slog.InfoContext(ctx, "item approved", "item", itemID, "user", reviewerID, "donor", item.DonorID, "amount", award)
		n.Title = "Item approved"
		n.Message = fmt.Sprintf("%q was approved.", item.Title)
		if award > 0 {
			n.Message += fmt.Sprintf(" You earned %d points.", award)
		}
		n.Category = model.NotifyItemApproved
	} else {
		slog.InfoContext(ctx, "item rejected", "item", itemID, "user", reviewerID, "donor", item.DonorID)
		n.Title = "Item rejected"
		n.Message = fmt.Sprintf("%q was not approved.", item.Title)
		n.Category = model.NotifyItemRejected
	}
	s.notifier.Enqueue(ctx, []model.Notification{n})

	return item, nil
}

// Redeem spends the redeemer's points on an approved item. The item update,
// the balance debit and the ledger entry commit together or not at all.
// A caller that saw the item approved but lost the race to another redeemer
// gets conflict.
func (s *Service) Redeem(ctx context.Context, redeemerID, itemID int64) (item *model.Item, err error) {
	ctx, done := s.observe(ctx, "redeem",
		attribute.Int64("user.id", redeemerID),
		attribute.Int64("item.id", itemID),
	)
	defer func() { done(err) }()

	redeemer, err := s.actor(ctx, redeemerID, model.RoleContributor)
	if err != nil {
		return nil, err
	}

	current, err := s.item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !(Viewer{UserID: redeemerID, Role: redeemer.Role}).CanSee(current) {
		return nil, apperr.New(apperr.CodeNotFound, "item not found")
	}
	if current.DonorID == redeemerID {
		return nil, apperr.New(apperr.CodeSelfRedemption, "you cannot redeem your own donation")
	}
	if current.Status != model.ItemStatusApproved || current.RedemptionPrice == nil {
		return nil, apperr.New(apperr.CodeInvalidState, "item is not available for redemption")
	}

	price := *current.RedemptionPrice
	if redeemer.Points < price {
		return nil, apperr.New(apperr.CodeInsufficientBalance, "insufficient points")
	}

	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := store.RedeemItem(ctx, tx, itemID, redeemerID); err != nil {
			return err
		}
		if price == 0 {
			return nil
		}
		if err := store.DebitPoints(ctx, tx, redeemerID, price); err != nil {
			return err
		}
		_, err := store.AppendLedgerEntry(ctx, tx, model.LedgerEntry{
			Kind:        model.LedgerKindDebit,
			UserID:      redeemerID,
			ItemID:      itemID,
			Amount:      price,
			Status:      model.LedgerStatusCompleted,
			Description: fmt.Sprintf("Redeemed %q", current.Title),
		})
		return err
	})
	switch {
	case errors.Is(err, store.ErrStateChanged):
		return nil, apperr.Wrap(apperr.CodeConflict, "item was redeemed by someone else", err)
	case errors.Is(err, store.ErrInsufficientPoints):
		return nil, apperr.Wrap(apperr.CodeInsufficientBalance, "insufficient points", err)
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.Wrap(apperr.CodeNotFound, "item not found", err)
	case err != nil:
		return nil, apperr.Internal(err)
	}

	s.metrics.AddPointsRedeemed(price)
	slog.InfoContext(ctx, "item redeemed", "item", itemID, "user", redeemerID, "amount", price)

	item, err = s.item(ctx, itemID)
	if err != nil {
		return nil, err
	}

	s.notifier.Enqueue(ctx, []model.Notification{{
		UserID:   redeemerID,
		Title:    "Item redeemed",
		Message:  fmt.Sprintf("You redeemed %q for %d points.", item.Title, price),
		Category: model.NotifyItemRedeemed,
	}})

	return item, nil
}

// ListItems returns a lazy, restartable sequence of items matching f, newest
// first. Apply VisibleFilter first when listing on behalf of a caller.
func (s *Service) ListItems(ctx context.Context, f model.ItemFilter) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		for item, err := range store.ListItems(ctx, s.db, f) {
			if err != nil {
				yield(model.Item{}, apperr.Internal(err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// actor loads a user and checks they hold at least role.
func (s *Service) actor(ctx context.Context, userID int64, role string) (*model.User, error) {
	u, err := store.GetUser(ctx, s.db, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if u == nil {
		return nil, apperr.New(apperr.CodeNotFound, "user not found")
	}
	if !model.RoleAtLeast(u.Role, role) {
		return nil, apperr.New(apperr.CodeForbidden, "insufficient permissions")
	}
	return u, nil
}

func (s *Service) item(ctx context.Context, id int64) (*model.Item, error) {
	item, err := store.GetItem(ctx, s.db, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if item == nil {
		return nil, apperr.New(apperr.CodeNotFound, "item not found")
	}
	return item, nil
}
