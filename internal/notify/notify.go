package notify

import "context"

// Notifier delivers a single alert to one channel. Title carries the
// endpoint headline, text the probe detail. Implementations must honor
// ctx; the Manager fans out across channels and records each outcome.
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}
