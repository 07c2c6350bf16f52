package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNoRecipient = errors.New("notification has no recipient")

const historyLimit = 200

// Sender delivers one plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notice is one delivery attempt as shown by the API.
type Notice struct {
	At      time.Time `json:"at"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Error   string    `json:"error,omitempty"`
}

// NotificationService sends alerts and receipts and keeps a short in-memory history.
type NotificationService struct {
	mu            sync.Mutex
	sender        Sender
	notifications []Notice
	now           func() time.Time
}

func NewNotificationService(sender Sender) *NotificationService {
	return &NotificationService{
		sender:        sender,
		notifications: make([]Notice, 0),
		now:           time.Now,
	}
}

// Notify sends the message and records the attempt. Multiple recipients may be comma separated.
func (ns *NotificationService) Notify(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	var err error
	switch {
	case to == "":
		err = ErrNoRecipient
	case ns.sender == nil:
		err = errors.New("notification sender is not configured")
	default:
		err = ns.sender.Send(ctx, to, subject, body)
	}
	n := Notice{At: ns.now().UTC(), To: to, Subject: subject}
	if err != nil {
		n.Error = err.Error()
	}
	ns.AddNotification(n)
	return err
}

func (ns *NotificationService) AddNotification(n Notice) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifications = append(ns.notifications, n)
	if over := len(ns.notifications) - historyLimit; over > 0 {
		ns.notifications = append([]Notice(nil), ns.notifications[over:]...)
	}
}

func (ns *NotificationService) GetNotifications() []Notice {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]Notice, len(ns.notifications))
	copy(out, ns.notifications)
	return out
}

func (ns *NotificationService) ClearNotifications() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifications = []Notice{}
}
