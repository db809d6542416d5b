package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/model"
)

const MaxRequestLength = 2000

// RequestService stores free-text requests from members to the librarians.
type RequestService struct {
	Backend
}

func NewRequestService(b Backend) *RequestService {
	return &RequestService{Backend: b}
}

// CreateRequest records text from uid. The username is taken from the user
// document at the time of the request.
func (s *RequestService) CreateRequest(ctx context.Context, uid, text string) (*model.Request, error) {
	if err := requireID("uid", uid); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("requestText", "request text is required")
	}
	if len(text) > MaxRequestLength {
		return nil, apperror.ValidationFailed("requestText",
			fmt.Sprintf("request text must be %d characters or less", MaxRequestLength))
	}

	var req model.Request
	err := s.write(ctx, func(u *unitOfWork) error {
		user, err := u.user(uid)
		if err != nil {
			return err
		}
		req = model.Request{
			ID:          xid.New().String(),
			UID:         uid,
			Username:    user.FullName(),
			RequestText: text,
			Timestamp:   s.now(),
		}
		return u.putRequest(&req)
	})
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", uid, err)
	}

	s.Logger.Info("request created", slog.String("id", req.ID), slog.String("uid", uid))
	return &req, nil
}

// ListRequests returns every request, newest first.
func (s *RequestService) ListRequests() []model.Request {
	all := s.Mirror.Requests.All()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	return all
}

func (s *RequestService) DeleteRequest(ctx context.Context, id string) error {
	if err := requireID("id", id); err != nil {
		return err
	}
	err := s.write(ctx, func(u *unitOfWork) error {
		return u.deleteRequest(id)
	})
	if err != nil {
		return fmt.Errorf("deleting request %s: %w", id, err)
	}
	s.Logger.Info("request deleted", slog.String("id", id))
	return nil
}
