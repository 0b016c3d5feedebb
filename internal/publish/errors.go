package publish

import "fmt"

// PublishError describes a failed delivery to Telegram.
type PublishError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to chat %d failed: %v", e.Op, e.ChatID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
