package workflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

// Notifications returns a user's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, userID int64, unreadOnly bool) ([]model.Notification, error) {
	list, err := store.ListNotifications(ctx, s.db, userID, unreadOnly)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	err := store.MarkNotificationRead(ctx, s.db, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, "notification not found")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of the user as
// read and returns how many changed.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	n, err := store.MarkAllNotificationsRead(ctx, s.db, userID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// Profile returns the user with their current balance.
func (s *Service) Profile(ctx context.Context, userID int64) (*model.User, error) {
	return s.actor(ctx, userID, model.RoleContributor)
}

// Users lists accounts, optionally only those with role.
func (s *Service) Users(ctx context.Context, role string) ([]model.User, error) {
	if role != "" && !model.ValidRole(role) {
		return nil, apperr.New(apperr.CodeValidation, "unknown role")
	}
	users, err := store.ListUsers(ctx, s.db, role)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return users, nil
}

// SetRole changes another user's role. Administrators cannot change their
// own role, so there is always at least one administrator left.
func (s *Service) SetRole(ctx context.Context, adminID, userID int64, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, apperr.New(apperr.CodeValidation, "unknown role")
	}
	if _, err := s.actor(ctx, adminID, model.RoleAdmin); err != nil {
		return nil, err
	}
	if adminID == userID {
		return nil, apperr.New(apperr.CodeValidation, "you cannot change your own role")
	}

	err := store.UpdateUserRole(ctx, s.db, userID, role)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	slog.InfoContext(ctx, "user role changed", "user", userID, "role", role, "by", adminID)
	return s.actor(ctx, userID, model.RoleContributor)
}

// Stats returns the administrator dashboard counters.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	stats, err := store.GetStats(ctx, s.db)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return stats, nil
}
