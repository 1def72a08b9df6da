package auth

import (
	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/store"
)

// Directory is the principal directory: it resolves a connection's token
// to a stable principal id and classifies principals as human or
// automated. Records themselves live in the durable store.
type Directory struct {
	secret []byte
}

func NewDirectory(secret []byte) *Directory {
	return &Directory{secret: secret}
}

// Authenticate resolves a token to a principal id. Failure is
// ErrInvalidToken; callers treat it as an unauthenticated event.
func (d *Directory) Authenticate(token string) (int64, error) {
	return VerifyToken(d.secret, token)
}

// Lookup returns the principal record for an id.
func (d *Directory) Lookup(id int64) (models.Principal, error) {
	return store.GetPrincipal(id)
}

// IsAutomated classifies a principal. Unknown ids propagate the store's
// not-found error.
func (d *Directory) IsAutomated(id int64) (bool, error) {
	p, err := store.GetPrincipal(id)
	if err != nil {
		return false, err
	}
	return p.Kind == models.KindAutomated, nil
}
