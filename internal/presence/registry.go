package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Conn is the slice of a connection the registry needs.
type Conn interface {
	ConnID() string
	AccountID() int
	Send(event any) bool
}

// PartnerSource resolves the accounts that share a conversation with a
// given account; presence broadcasts are scoped to them, never global.
type PartnerSource interface {
	PartnerIDs(ctx context.Context, userID int) ([]int, error)
}

// Registry is the process-wide source of truth for who is online. An
// account is online iff it has at least one live connection or an offline
// broadcast still pending in its grace window.
type Registry struct {
	mu      sync.Mutex
	entries map[int]*entry

	grace    time.Duration
	partners PartnerSource
	lastSeen LastSeenStore
	log      zerolog.Logger
}

type entry struct {
	conns   map[string]Conn
	offline *time.Timer

	// bmu serializes presence broadcasts for this account so observers
	// never see transitions out of order.
	bmu sync.Mutex
}

// NewRegistry constructs a presence registry.
func NewRegistry(partners PartnerSource, lastSeen LastSeenStore, grace time.Duration, logger zerolog.Logger) *Registry {
	if lastSeen == nil {
		lastSeen = NewMemoryLastSeen()
	}
	return &Registry{
		entries:  make(map[int]*entry),
		grace:    grace,
		partners: partners,
		lastSeen: lastSeen,
		log:      logger,
	}
}

// ConnectionAuthenticated registers a freshly authenticated connection. A
// 0→1 transition broadcasts user_online to conversation partners; a
// reconnect inside the grace window cancels the pending offline broadcast
// and emits nothing, which is the de-flapping invariant.
func (r *Registry) ConnectionAuthenticated(ctx context.Context, c Conn) {
	accountID := c.AccountID()
	if accountID == 0 {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[accountID]
	if !ok {
		e = &entry{conns: make(map[string]Conn)}
		r.entries[accountID] = e
	}

	graceCancelled := false
	if e.offline != nil {
		e.offline.Stop()
		e.offline = nil
		graceCancelled = true
	}

	wasOnline := len(e.conns) > 0 || graceCancelled
	e.conns[c.ConnID()] = c
	r.mu.Unlock()

	if wasOnline {
		return
	}

	observability.IncPresenceTransition("online")
	r.broadcast(ctx, e, accountID, true, time.Time{})
}

// ConnectionClosed deregisters a connection. The offline broadcast is
// deferred by the grace window so page navigations and refreshes do not
// flap; only the last connection's departure arms the timer.
func (r *Registry) ConnectionClosed(c Conn) {
	accountID := c.AccountID()
	if accountID == 0 {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[accountID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(e.conns, c.ConnID())
	if len(e.conns) == 0 && e.offline == nil {
		e.offline = time.AfterFunc(r.grace, func() {
			r.graceExpired(accountID)
		})
	}
	r.mu.Unlock()
}

func (r *Registry) graceExpired(accountID int) {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.offline = nil
	if len(e.conns) > 0 {
		// A reconnect raced the timer; the account never went offline.
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	e.bmu.Lock()
	defer e.bmu.Unlock()

	// Decide again now that this goroutine owns the broadcast order: a
	// reconnect may have slipped in after the timer fired, and its
	// user_online must never be trailed by a stale user_offline.
	if !r.stillGone(e) {
		return
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lastSeen.Touch(ctx, accountID, now); err != nil {
		r.log.Warn().Err(err).Int("account_id", accountID).Msg("record last seen")
	}

	observability.IncPresenceTransition("offline")
	r.broadcastLocked(ctx, accountID, false, now)
}

// stillGone reports whether the entry has neither live connections nor a
// pending grace timer. Callers hold the entry's broadcast lock.
func (r *Registry) stillGone(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(e.conns) == 0 && e.offline == nil
}

// broadcast fans a presence transition out to every live connection of the
// account's conversation partners. The per-entry broadcast lock keeps
// transitions for one account strictly ordered without holding the registry
// lock across the partner lookup.
func (r *Registry) broadcast(ctx context.Context, e *entry, accountID int, online bool, lastSeen time.Time) {
	e.bmu.Lock()
	defer e.bmu.Unlock()
	r.broadcastLocked(ctx, accountID, online, lastSeen)
}

func (r *Registry) broadcastLocked(ctx context.Context, accountID int, online bool, lastSeen time.Time) {
	partnerIDs, err := r.partners.PartnerIDs(ctx, accountID)
	if err != nil {
		r.log.Error().Err(err).Int("account_id", accountID).Msg("resolve presence partners")
		return
	}

	event := models.PresenceEvent{Type: models.EventUserOnline, AccountID: accountID}
	if !online {
		event.Type = models.EventUserOffline
		event.LastSeen = lastSeen.Format(time.RFC3339)
	}

	for _, partnerID := range partnerIDs {
		for _, conn := range r.Connections(partnerID) {
			conn.Send(event)
		}
	}
}

// Connections returns a snapshot of the account's live connections.
func (r *Registry) Connections(accountID int) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[accountID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the account counts as online. Pending grace
// windows count: the offline transition has not been observed yet, so the
// snapshot must agree with the event stream.
func (r *Registry) IsOnline(accountID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[accountID]
	if !ok {
		return false
	}
	return len(e.conns) > 0 || e.offline != nil
}

// OnlinePartners returns the subset of the account's conversation partners
// that are currently online, used for the initial snapshot on connect.
func (r *Registry) OnlinePartners(ctx context.Context, accountID int) ([]int, error) {
	partnerIDs, err := r.partners.PartnerIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	online := make([]int, 0, len(partnerIDs))
	for _, id := range partnerIDs {
		if r.IsOnline(id) {
			online = append(online, id)
		}
	}
	return online, nil
}

// LastSeen exposes the stored last-seen timestamp for an account.
func (r *Registry) LastSeen(ctx context.Context, accountID int) (time.Time, bool, error) {
	return r.lastSeen.LastSeen(ctx, accountID)
}
