package agent

import (
	"fmt"

	"github.com/google/uuid"
)

// NewConversationID mints a fresh random opaque conversation id, used for
// REPL-style conversations with no external identity to bind to.
func NewConversationID() string {
	return uuid.NewString()
}

// ExternalConversationID derives the stable, deterministic id an
// event-sourced conversation is bound to, so the same external identity
// maps to the same conversation across daemon restarts.
func ExternalConversationID(source, externalIdentity string) string {
	return fmt.Sprintf("%s-%s", source, externalIdentity)
}
