package core

import (
	"errors"

	"escalator/internal/types"
)

// ErrRecipientBlocked marks a recipient the provider refuses to deliver to
// (suppression list, STOP reply). Retrying will not help.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsRecipientBlocked reports whether err is the sentinel or an AppError
// carrying types.ErrCodeRecipientBlocked.
func IsRecipientBlocked(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	return types.IsCode(err, types.ErrCodeRecipientBlocked)
}
