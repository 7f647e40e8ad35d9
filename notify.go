package offcache

import (
	"bytes"
	"context"
	"encoding/json"
)

const (
	DefaultNotificationTitle = "Budget Tracker"
	DefaultNotificationBody  = "Budget updated successfully!"
	NotificationTag          = "budget-notification"

	// ActionView opens the application root.
	ActionView = "view"
)

// NotificationAction is a button shown on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is a rendered push notification.
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Tag                string               `json:"tag,omitempty"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Actions            []NotificationAction `json:"actions,omitempty"`
}

// Notifier displays notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

// Windows opens or focuses a foreground window at url.
type Windows interface {
	OpenWindow(ctx context.Context, url string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) ShowNotification(ctx context.Context, n Notification) error { return f(ctx, n) }

// WindowsFunc adapts a function to Windows.
type WindowsFunc func(ctx context.Context, url string) error

func (f WindowsFunc) OpenWindow(ctx context.Context, url string) error { return f(ctx, url) }

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// RenderNotification applies the defaults to a decoded push payload.
func RenderNotification(title, body string) Notification {
	return Notification{
		Title: coalesce(title, DefaultNotificationTitle),
		Body:  coalesce(body, DefaultNotificationBody),
		Icon:  "/icons/icon-192x192.png",
		Badge: "/icons/icon-72x72.png",
		Tag:   NotificationTag,
		Actions: []NotificationAction{
			{Action: ActionView, Title: "View Budget", Icon: "/icons/icon-72x72.png"},
		},
	}
}

// Push decodes payload as {"title"?, "body"?} and shows it. Empty and
// malformed payloads are dropped without error.
func (e *engine) Push(ctx context.Context, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.hooks.PushDropped("malformed")
		e.log.Debug("dropping malformed push payload", Fields{"err": err, "size": len(payload)})
		return nil
	}
	n := RenderNotification(p.Title, p.Body)
	if err := e.notifier.ShowNotification(ctx, n); err != nil {
		e.log.Warn("show notification failed", Fields{"tag": n.Tag, "err": err})
		return err
	}
	return nil
}

// Click handles a notification click. Only ActionView does anything.
func (e *engine) Click(ctx context.Context, action string) error {
	if action != ActionView {
		return nil
	}
	return e.windows.OpenWindow(ctx, "/")
}

// clientNotifier forwards notifications to attached clients.
type clientNotifier struct {
	bus *broadcaster
	log Logger
}

func (n clientNotifier) ShowNotification(_ context.Context, note Notification) error {
	if got := n.bus.broadcast(Message{Type: MessageNotification, Notification: &note}); got == 0 {
		n.log.Info("notification not delivered; no clients", Fields{"title": note.Title})
	}
	return nil
}

// clientWindows asks the oldest attached client to focus and navigate.
type clientWindows struct {
	bus *broadcaster
	log Logger
}

func (w clientWindows) OpenWindow(_ context.Context, url string) error {
	if !w.bus.focus(Message{Type: MessageOpenWindow, URL: url}) {
		w.log.Info("no client to focus", Fields{"url": url})
	}
	return nil
}
