// ABOUTME: Tracks which users are online by mapping user ids to live connection ids.
// ABOUTME: The only source of truth for presence; multi-connection safe by construction.

package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrConnConflict indicates a connection is already joined as a different user.
// The caller must leave before joining again with a new identity.
var ErrConnConflict = errors.New("connection already joined as another user")

// Registry is the authoritative mapping between user identities and their
// live connections. A user is online iff it has at least one connection.
//
// A user with several simultaneous connections (multiple tabs) stays online
// until the last one leaves; this is what prevents the presence flicker of
// naively marking a user offline on every disconnect.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]string              // connection id -> user id
	users  map[string]map[string]struct{} // user id -> set of connection ids
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]string),
		users:  make(map[string]map[string]struct{}),
		logger: logger.With("component", "presence"),
	}
}

// Join associates a connection with a user. Joining again with the same user
// is idempotent. Returns ErrConnConflict if the connection is already bound
// to a different user.
//
// The returned flag reports the offline-to-online edge: true only when this
// join brought the user from zero connections to one. Retried joins never
// produce a second edge.
func (r *Registry) Join(connID, userID string) (cameOnline bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[connID]; ok {
		if existing == userID {
			return false, nil
		}
		return false, ErrConnConflict
	}

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}

	cameOnline = len(set) == 0
	set[connID] = struct{}{}
	r.conns[connID] = userID

	r.logger.Debug("connection joined",
		"conn_id", connID,
		"user_id", userID,
		"connections", len(set),
	)
	return cameOnline, nil
}

// Leave removes a connection's association, if any. A connection that never
// joined is a no-op.
//
// Returns the owning user and the online-to-offline edge: wentOffline is
// true only when this leave emptied the user's connection set.
func (r *Registry) Leave(connID string) (userID string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	if !ok {
		return "", false
	}

	delete(r.conns, connID)

	set := r.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		wentOffline = true
	}

	r.logger.Debug("connection left",
		"conn_id", connID,
		"user_id", userID,
		"went_offline", wentOffline,
	)
	return userID, wentOffline
}

// UserFor returns the user a connection is joined as, if any.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.conns[connID]
	return userID, ok
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

// OnlineUsers returns a sorted snapshot of the currently online user ids.
// Sorting keeps the presence broadcast stable across emits.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for userID := range r.users {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
