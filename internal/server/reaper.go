package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/halaqah-id/halaqah-realtime/internal/stats"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

// sweep runs on every tick of the reaper. Connections whose user has not
// sent a heartbeat within the presence TTL are disconnected as if they had
// closed, stale typing flags are cleared, and users left behind in the
// presence store by a crashed process are pruned.
func (cs *ChatServer) sweep(now time.Time) {
	for _, c := range cs.registry.Stale(now, cs.opts.PresenceTTL) {
		last, _ := cs.registry.LastHeartbeat(c.user.UserId)
		cs.log.Printf("reaping connection %s of %q, last heartbeat %s ago",
			c.id, c.user.UserId, now.Sub(last))
		cs.stats.Incr(stats.NumReapedConnections)
		c.stopClient(websocket.CloseGoingAway, reasonHeartbeatTimeout)
		cs.handleDisconnect(c)
	}

	for _, ch := range cs.typing.Expire(now, cs.opts.TypingTimeout) {
		cs.emitTypingCleared(ch)
	}

	cs.pruneExpired()
}

func (cs *ChatServer) pruneExpired() {
	if cs.pruning {
		return
	}
	cs.pruning = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cs.opts.StoreTimeout)
		defer cancel()

		pruned, err := cs.store.PruneExpired(ctx)
		cs.post(func() {
			cs.pruning = false
			if err != nil {
				cs.log.Printf("pruning expired presence: %v", err)
			}
			for _, user := range pruned {
				cs.handlePruned(user)
			}
		})
	}()
}

// handlePruned handles a user this process removed from the presence store.
func (cs *ChatServer) handlePruned(user types.PresenceUser) {
	clients := cs.registry.Clients(user.UserId)
	if len(clients) == 0 {
		cs.log.Printf("presence of %q expired without a disconnect", user.UserId)
		cs.declareOffline(user)
		return
	}

	// marker lapsed while the user is still connected here
	for _, c := range clients {
		c := c
		local := c.user
		cs.enqueue(c, func(ctx context.Context) {
			if _, err := cs.store.AddConnection(ctx, local, c.id); err != nil {
				cs.log.Printf("restoring presence of %q: %v", local.UserId, err)
			}
		})
	}
}
