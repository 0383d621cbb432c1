package streaming

import (
	"context"
	"time"
)

type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Publisher fans engine events out to an external bus. Intent emission and
// request transitions publish through it; delivery is best-effort and never
// blocks the escalation path.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
