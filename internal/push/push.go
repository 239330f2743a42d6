// Package push is the best-effort push-notification collaborator boundary.
// The transport itself is external; this package only queues notifications
// for delivery and drops on overflow.
package push

import (
	"context"

	"github.com/rs/zerolog"
)

// Notification is an offline-fallback hint. The durable store is the source
// of truth; losing a notification is acceptable.
type Notification struct {
	UserID string
	Kind   string
	Title  string
	Body   string
	Data   map[string]string
}

// Notification kinds.
const (
	KindNewMessage = "new_message"
	KindMissedCall = "missed_call"
)

// Sender delivers one notification. Implementations are external transports
// (APNs/FCM bridges); the in-repo sender just logs.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log. Used when no real transport is
// configured.
type LogSender struct {
	Log *zerolog.Logger
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Debug().
		Str("user_id", n.UserID).
		Str("kind", n.Kind).
		Str("title", n.Title).
		Msg("push notification")
	return nil
}

// Queue decouples protocol handlers from the push transport with a bounded
// buffer. Enqueue never blocks; overflow is dropped.
type Queue struct {
	ch     chan Notification
	sender Sender
	log    *zerolog.Logger
}

// NewQueue builds a queue draining into sender.
func NewQueue(sender Sender, size int, logger *zerolog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		ch:     make(chan Notification, size),
		sender: sender,
		log:    logger,
	}
}

// Enqueue offers a notification to the queue. Returns false when the buffer
// is full and the notification was dropped.
func (q *Queue) Enqueue(n Notification) bool {
	select {
	case q.ch <- n:
		return true
	default:
		q.log.Warn().Str("user_id", n.UserID).Str("kind", n.Kind).Msg("push queue full, dropping")
		return false
	}
}

// Len reports the number of queued notifications.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q.ch:
			if err := q.sender.Send(ctx, n); err != nil {
				q.log.Warn().Err(err).Str("user_id", n.UserID).Msg("push send failed")
			}
		}
	}
}
