// Package auth is the boundary to credential handling. The chat core asks a
// Gateway for a bearer token on every request and reports unauthorized
// responses back through Logout; token storage and refresh live elsewhere.
package auth

import (
	"context"
	"errors"
	"sync"
)

var ErrLoggedOut = errors.New("auth: logged out")

type Gateway interface {
	// Token returns the bearer token for the next request.
	Token(ctx context.Context) (string, error)
	// UserID is the numeric id sent in create-chat bodies.
	UserID() int64
	// Logout is the unauthorized signal. It must be safe to call repeatedly.
	Logout(reason error)
}

// StaticGateway serves one token until Logout is called.
type StaticGateway struct {
	mu        sync.RWMutex
	token     string
	userID    int64
	loggedOut bool
	onLogout  func(reason error)
}

// NewStaticGateway builds a gateway around a fixed token. When userID is 0 it
// is read from the token's subject claim.
func NewStaticGateway(token string, userID int64, onLogout func(reason error)) *StaticGateway {
	if userID == 0 && token != "" {
		if id, err := SubjectUserID(token); err == nil {
			userID = id
		}
	}
	return &StaticGateway{token: token, userID: userID, onLogout: onLogout}
}

func (g *StaticGateway) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.loggedOut || g.token == "" {
		return "", ErrLoggedOut
	}
	return g.token, nil
}

func (g *StaticGateway) UserID() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.userID
}

func (g *StaticGateway) Logout(reason error) {
	g.mu.Lock()
	if g.loggedOut {
		g.mu.Unlock()
		return
	}
	g.loggedOut = true
	g.token = ""
	cb := g.onLogout
	g.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
}

func (g *StaticGateway) LoggedOut() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loggedOut
}
