package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/service"
)

// NotificationHandler serves in-app notifications and transactional email.
type NotificationHandler struct {
	notifications *service.NotificationService
	authz         *auth.Authorizer
	logger        *slog.Logger
}

func NewNotificationHandler(svc *service.Services, authz *auth.Authorizer, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: svc.Notifications, authz: authz, logger: logger}
}

// Routes mounts the handler on the /api/users router.
func (h *NotificationHandler) Routes(r chi.Router) {
	write := h.authz.Require(auth.ObjNotification, auth.ActWrite)

	r.With(write).Post("/{uid}/notifications", h.HandleAdd)
	r.Get("/{uid}/notifications", h.HandleList)
	r.Get("/{uid}/notifications/unread-count", h.HandleUnreadCount)
	r.Put("/{uid}/notifications/mark-all-read", h.HandleMarkAllRead)
	r.With(write).Post("/{uid}/send-email", h.HandleSendEmail)
}

type notificationRequest struct {
	Message string `json:"message" validate:"required,max=1000"`
}

type emailRequest struct {
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"required,max=10000"`
}

func (h *NotificationHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.notifications.AddNotification(r.Context(), chi.URLParam(r, "uid"), req.Message)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Notification added", envelope{"notification": n})
}

func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.authz.CheckSelf(r, uid, auth.ObjNotification, auth.ActRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	list, err := h.notifications.ListNotifications(uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"notifications": list})
}

func (h *NotificationHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.authz.CheckSelf(r, uid, auth.ObjNotification, auth.ActRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.notifications.UnreadCount(uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"unreadCount": n})
}

func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.authz.CheckSelf(r, uid, auth.ObjNotification, auth.ActRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.notifications.MarkAllRead(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Notifications marked as read", envelope{"updated": n})
}

// HandleSendEmail sends one email to the user's address. Delivery failures
// answer 500 and are not retried.
//
// HTTP: POST /api/users/{uid}/send-email
// REQUEST BODY: {"subject": "Your book is ready", "message": "..."}
func (h *NotificationHandler) HandleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.notifications.SendEmail(r.Context(), chi.URLParam(r, "uid"), req.Subject, req.Message); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Email sent", nil)
}
