package ticket

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/totalracingleague26/Dave-bot/internal/shardmap"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Registry is the in-memory store of live tickets keyed by channel ID.
// Every operation is atomic per ticket; tickets never share a lock for
// longer than a map access.
type Registry struct {
	tickets *shardmap.Map[*protocol.Ticket]
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tickets: shardmap.New[*protocol.Ticket](0),
		logger:  logger,
	}
}

// Insert registers a new ticket. It fails with ErrDuplicateTicket if the ID is taken.
func (r *Registry) Insert(t *protocol.Ticket) error {
	if t.ID == "" {
		return fmt.Errorf("registry: insert: empty ticket id")
	}
	if err := checkInvariants(t); err != nil {
		return fmt.Errorf("registry: insert %s: %w", t.ID, err)
	}
	if !r.tickets.Insert(t.ID, t.Clone()) {
		return fmt.Errorf("registry: insert %s: %w", t.ID, protocol.ErrDuplicateTicket)
	}
	r.logger.Debug("ticket registered", "ticket", t.ID, "type", t.Type)
	return nil
}

// Get returns a copy of the ticket.
func (r *Registry) Get(id string) (*protocol.Ticket, error) {
	t, ok := r.tickets.Get(id)
	if !ok {
		return nil, fmt.Errorf("registry: get %s: %w", id, protocol.ErrNotFound)
	}
	return t.Clone(), nil
}

// Update applies mutate to a copy of the ticket and commits it only when mutate
// returns nil and the result still satisfies the ticket invariants. The
// committed ticket is returned.
func (r *Registry) Update(id string, mutate func(t *protocol.Ticket) error) (*protocol.Ticket, error) {
	var (
		updated *protocol.Ticket
		err     error
	)
	r.tickets.Compute(id, func(cur *protocol.Ticket, ok bool) (*protocol.Ticket, bool) {
		if !ok {
			err = protocol.ErrNotFound
			return nil, false
		}
		next := cur.Clone()
		if err = mutate(next); err != nil {
			return cur, true
		}
		if err = checkUpdate(cur, next); err != nil {
			return cur, true
		}
		updated = next
		return next, true
	})
	if err != nil {
		return nil, fmt.Errorf("registry: update %s: %w", id, err)
	}
	return updated.Clone(), nil
}

// Remove deletes the ticket and returns it. Only one caller can observe a
// successful removal; everyone else gets ErrNotFound.
func (r *Registry) Remove(id string) (*protocol.Ticket, error) {
	t, ok := r.tickets.Delete(id)
	if !ok {
		return nil, fmt.Errorf("registry: remove %s: %w", id, protocol.ErrNotFound)
	}
	r.logger.Debug("ticket removed", "ticket", id)
	return t, nil
}

// List returns copies of all live tickets, oldest first.
func (r *Registry) List() []*protocol.Ticket {
	var out []*protocol.Ticket
	r.tickets.Range(func(_ string, t *protocol.Ticket) bool {
		out = append(out, t.Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live tickets.
func (r *Registry) Len() int {
	return r.tickets.Len()
}

func checkUpdate(cur, next *protocol.Ticket) error {
	if next.ID != cur.ID || next.Type != cur.Type || next.OwnerUserID != cur.OwnerUserID {
		return fmt.Errorf("id, type and owner are immutable")
	}
	if !CanTransition(cur.Status, next.Status) {
		return fmt.Errorf("invalid transition %s -> %s", cur.Status, next.Status)
	}
	return checkInvariants(next)
}

// checkInvariants enforces the claim/mute coupling.
func checkInvariants(t *protocol.Ticket) error {
	if t.Status == protocol.TicketClosed {
		return fmt.Errorf("closed tickets are not stored")
	}
	claimed := t.Status == protocol.TicketClaimed
	if claimed != (t.ClaimedBy != "") {
		return fmt.Errorf("claimed_by must be set iff status is claimed")
	}
	if claimed != t.MutedForAssistant {
		return fmt.Errorf("muted_for_assistant must be set iff status is claimed")
	}
	return nil
}
