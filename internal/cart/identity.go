package cart

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

// Identity is the owner of a cart: an authenticated user or an anonymous
// session key. The user wins when both are present.
type Identity struct {
	UserID     *uuid.UUID
	SessionKey string
}

// ForUser builds an identity for an authenticated user.
func ForUser(id uuid.UUID) Identity {
	return Identity{UserID: &id}
}

// ForSession builds an identity for an anonymous session key.
func ForSession(key string) Identity {
	return Identity{SessionKey: strings.TrimSpace(key)}
}

func (i Identity) IsUser() bool {
	return i.UserID != nil && *i.UserID != uuid.Nil
}

// Validate rejects identities that carry neither a user nor a session.
func (i Identity) Validate() error {
	if i.IsUser() {
		return nil
	}
	if strings.TrimSpace(i.SessionKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart identity requires a user or session key")
	}
	return nil
}
