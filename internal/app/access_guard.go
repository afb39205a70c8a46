package app

import (
	"errors"
	"strings"

	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/pkg/jwtutil"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	UserID   uint
	Username string
}

type AccessGuard struct {
	jwtSecret string
}

func NewAccessGuard(jwtSecret string) *AccessGuard {
	return &AccessGuard{jwtSecret: jwtSecret}
}

func (g *AccessGuard) Resolve(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := jwtutil.ParseToken(g.jwtSecret, credential)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// Authorize has no side effects.
func (g *AccessGuard) Authorize(session *model.Session, identity Identity) error {
	if session == nil || identity.UserID == 0 || session.OwnerID != identity.UserID {
		return ErrForbidden
	}
	return nil
}
