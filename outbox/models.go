package outbox

import "time"

// Message is one pending downstream notification. Messages are written in
// the same database transaction as the state change they announce and
// published asynchronously by the relay.
type Message struct {
	ID          string
	Topic       string
	Payload     map[string]any
	Status      string
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// maxAttempts is how many delivery failures park a message as failed.
const maxAttempts = 5
