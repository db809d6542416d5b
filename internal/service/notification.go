package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/events"
	"github.com/sakif/community-library/internal/model"
)

// Mailer delivers one message. Implementations must not retry.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// DefaultEmailSubject is used when SendEmail gets no subject.
const DefaultEmailSubject = "Message from the community library"

// MaxNotificationLength bounds a notification message.
const MaxNotificationLength = 1000

// NotificationService owns User.Notifications and outbound email.
type NotificationService struct {
	Backend
	Mailer Mailer // nil when SMTP is not configured
}

func NewNotificationService(b Backend, m Mailer) *NotificationService {
	return &NotificationService{Backend: b, Mailer: m}
}

// AddNotification appends an unread notification, keeping only the
// model.MaxNotifications most recent.
func (s *NotificationService) AddNotification(ctx context.Context, uid, message string) (*model.Notification, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperror.ValidationFailed("message", "message is required")
	}
	if len(message) > MaxNotificationLength {
		return nil, apperror.ValidationFailed("message",
			fmt.Sprintf("message must be %d characters or less", MaxNotificationLength))
	}

	n := model.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: s.now(),
	}
	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		user.PushNotification(n)
		return u.putUser(user)
	})
	if err != nil {
		return nil, fmt.Errorf("notifying %s: %w", uid, err)
	}
	return &n, nil
}

// ListNotifications returns the user's notifications, oldest first.
func (s *NotificationService) ListNotifications(uid string) ([]model.Notification, error) {
	user, ok := s.Mirror.Users.Get(uid)
	if !ok {
		return nil, apperror.NotFound("user", uid)
	}
	if user.Notifications == nil {
		return []model.Notification{}, nil
	}
	return user.Notifications, nil
}

func (s *NotificationService) UnreadCount(uid string) (int, error) {
	list, err := s.ListNotifications(uid)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n, nil
}

// MarkAllRead flags every notification read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, uid string) (int, error) {
	if err := requireID("uid", uid); err != nil {
		return 0, err
	}

	changed := 0
	err := s.write(ctx, func(u *unitOfWork) error {
		changed = 0
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		for i := range user.Notifications {
			if !user.Notifications[i].Read {
				user.Notifications[i].Read = true
				changed++
			}
		}
		if changed == 0 {
			return nil
		}
		return u.putUser(user)
	})
	if err != nil {
		return 0, fmt.Errorf("marking notifications of %s read: %w", uid, err)
	}
	return changed, nil
}

// SendEmail mails message to the user's address once. Delivery failures are
// reported as Internal and not retried.
func (s *NotificationService) SendEmail(ctx context.Context, uid, subject, message string) error {
	if strings.TrimSpace(message) == "" {
		return apperror.ValidationFailed("message", "message is required")
	}
	user, ok := s.Mirror.Users.Get(uid)
	if !ok {
		return apperror.NotFound("user", uid)
	}
	if user.Email == "" {
		return apperror.ValidationFailed("email", fmt.Sprintf("user %s has no email address", uid))
	}
	if s.Mailer == nil {
		return apperror.Internal("email is not configured", nil)
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultEmailSubject
	}

	if err := s.Mailer.Send(ctx, user.Email, subject, message); err != nil {
		s.Logger.Error("email delivery failed",
			slog.String("uid", uid),
			slog.String("error", err.Error()),
		)
		return apperror.Internal("sending email", err)
	}

	s.Logger.Info("email sent", slog.String("uid", uid))
	return nil
}

// HandleEvent turns loan events into user notifications. It is registered on
// the event bus for the accepted and returned topics.
func (s *NotificationService) HandleEvent(ctx context.Context, e events.Event) error {
	var msg string
	switch e.Topic {
	case events.TopicLoanAccepted:
		msg = fmt.Sprintf("Your request for %q was accepted. Copy #%d is yours", e.Title, e.CopyID)
		if e.DueDate != nil {
			msg += " until " + e.DueDate.Format("2006-01-02")
		}
		msg += "."
	case events.TopicLoanReturned:
		msg = fmt.Sprintf("Thanks for returning %q.", e.Title)
	default:
		return nil
	}

	_, err := s.AddNotification(ctx, e.UID, msg)
	if isNotFound(err) {
		// User document gone; nothing to notify.
		return nil
	}
	return err
}
