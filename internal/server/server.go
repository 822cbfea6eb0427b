package server

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/halaqah-id/halaqah-realtime/internal/database"
	"github.com/halaqah-id/halaqah-realtime/internal/presence"
	"github.com/halaqah-id/halaqah-realtime/internal/protocol"
	"github.com/halaqah-id/halaqah-realtime/internal/pubsub"
	"github.com/halaqah-id/halaqah-realtime/internal/stats"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
	"github.com/teris-io/shortid"
)

const (
	DefaultPresenceTTL   = 60 * time.Second
	DefaultSweepInterval = 20 * time.Second
	DefaultTypingTimeout = 5 * time.Second
	DefaultStoreTimeout  = 3 * time.Second

	inboxSize     = 512
	callbacksSize = 256
	outboxSize    = 512
)

type Options struct {
	// InstanceId identifies this process on the delivery bus.
	InstanceId    string
	PresenceTTL   time.Duration
	SweepInterval time.Duration
	TypingTimeout time.Duration
	// StoreTimeout bounds every presence store and database call.
	StoreTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.InstanceId == "" {
		o.InstanceId = uuid.NewString()
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = DefaultPresenceTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
}

type inboundSignal struct {
	client *Client
	sig    protocol.Signal
}

type stopReq struct {
	done chan struct{}
}

// ChatServer relays signals between connections. The registry, room router
// and typing state are only touched from the goroutine running Run.
type ChatServer struct {
	log   *log.Logger
	db    database.Repository
	store presence.Store
	bus   pubsub.Bus
	stats stats.StatsProvider
	opts  Options
	now   func() time.Time
	// connIds is seeded from the instance id; ids are prefixed with it.
	connIds *shortid.Shortid

	registry *Registry
	rooms    *RoomRouter
	typing   *TypingState
	clients  map[*Client]struct{}
	pruning  bool
	stopping bool

	registerChan   chan *Client
	deRegisterChan chan *Client
	inbox          chan *inboundSignal
	callbacks      chan func()
	outbox         chan *pubsub.Delivery
	deliveries     <-chan *pubsub.Delivery
	stop           chan stopReq
	done           chan struct{}

	cancelSubscription context.CancelFunc
	publisherDone      chan struct{}
	opsWg              sync.WaitGroup
	persistWg          sync.WaitGroup
}

func NewChatServer(logger *log.Logger, db database.Repository, store presence.Store, bus pubsub.Bus,
	su stats.StatsProvider, opts Options) (*ChatServer, error) {
	opts.setDefaults()
	if opts.SweepInterval >= opts.PresenceTTL {
		return nil, fmt.Errorf("sweep interval %s must be shorter than presence ttl %s",
			opts.SweepInterval, opts.PresenceTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := bus.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to delivery bus: %w", err)
	}

	connIds, err := newConnIdGenerator(opts.InstanceId)
	if err != nil {
		cancel()
		return nil, err
	}

	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumOnlineUsers)
	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.NumReapedConnections)
	su.RegisterMetric(stats.NumDroppedSignals)

	return &ChatServer{
		log:                logger,
		db:                 db,
		store:              store,
		bus:                bus,
		stats:              su,
		opts:               opts,
		now:                Now,
		connIds:            connIds,
		registry:           NewRegistry(),
		rooms:              NewRoomRouter(),
		typing:             NewTypingState(),
		clients:            make(map[*Client]struct{}),
		registerChan:       make(chan *Client),
		deRegisterChan:     make(chan *Client),
		inbox:              make(chan *inboundSignal, inboxSize),
		callbacks:          make(chan func(), callbacksSize),
		outbox:             make(chan *pubsub.Delivery, outboxSize),
		deliveries:         deliveries,
		stop:               make(chan stopReq),
		done:               make(chan struct{}),
		cancelSubscription: cancel,
		publisherDone:      make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	go cs.publish()

	sweep := time.NewTicker(cs.opts.SweepInterval)
	defer sweep.Stop()

	var (
		exit    bool
		stopped stopReq
	)

	for !exit {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.deRegisterChan:
			cs.handleDisconnect(c)
		case in := <-cs.inbox:
			cs.handleSignal(in.client, in.sig)
		case fn := <-cs.callbacks:
			fn()
		case d, ok := <-cs.deliveries:
			if !ok {
				cs.deliveries = nil
				continue
			}
			cs.deliverLocal(d)
		case <-sweep.C:
			cs.sweep(cs.now())
		case req := <-cs.stop:
			cs.log.Println("disconnecting clients")
			stopped = req
			cs.stopping = true
			for c := range cs.clients {
				c.stopClient(websocket.CloseGoingAway, reasonShuttingDown)
				cs.handleDisconnect(c)
			}
			go func() {
				cs.opsWg.Wait()
				cs.post(func() { exit = true })
			}()
		}
	}

	close(cs.done)
	cs.cancelSubscription()
	close(cs.outbox)
	<-cs.publisherDone
	cs.persistWg.Wait()
	close(stopped.done)
}

func newConnIdGenerator(instanceId string) (*shortid.Shortid, error) {
	h := fnv.New64a()
	h.Write([]byte(instanceId))
	seed := h.Sum64()

	ids, err := shortid.New(uint8(seed%32), shortid.DefaultABC, seed)
	if err != nil {
		return nil, fmt.Errorf("connection id generator: %w", err)
	}
	return ids, nil
}

// newConnId returns an id unique across every process sharing the
// presence store and the delivery bus, given distinct instance ids.
func (cs *ChatServer) newConnId() (string, error) {
	id, err := cs.connIds.Generate()
	if err != nil {
		return "", fmt.Errorf("generate connection id: %w", err)
	}
	return cs.opts.InstanceId + "." + id, nil
}

// Register hands a new connection to the server. It returns false once the
// server has shut down.
func (cs *ChatServer) Register(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deRegister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

// dispatch queues sig for the loop. It returns false when c or the server stopped.
func (cs *ChatServer) dispatch(c *Client, sig protocol.Signal) bool {
	select {
	case cs.inbox <- &inboundSignal{client: c, sig: sig}:
		return true
	case <-c.stop:
		return false
	case <-cs.done:
		return false
	}
}

// post runs fn on the loop.
func (cs *ChatServer) post(fn func()) {
	select {
	case cs.callbacks <- fn:
	case <-cs.done:
	}
}

// enqueue schedules a store call for c, keeping c's calls in order.
func (cs *ChatServer) enqueue(c *Client, op storeOp) {
	if !c.ops.push(op) {
		cs.log.Printf("dropping store call for closed connection %s", c.id)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.opsWg.Add(1)
	go func() {
		defer cs.opsWg.Done()
		c.ops.run()
	}()

	if cs.stopping {
		c.ops.close()
		c.stopClient(websocket.CloseGoingAway, reasonShuttingDown)
		return
	}

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveClients)
}

func (cs *ChatServer) handleSignal(c *Client, sig protocol.Signal) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	if join, ok := sig.(*protocol.UserJoin); ok {
		cs.handleUserJoin(c, join)
		return
	}

	if !c.identified {
		cs.log.Printf("ignoring %s from unidentified connection %s", sig.Event(), c.id)
		return
	}

	switch s := sig.(type) {
	case *protocol.PresencePing:
		cs.handlePing(c)
	case *protocol.ConversationJoin:
		if _, created := cs.rooms.Join(c, s.ConversationId); created {
			cs.stats.Incr(stats.NumActiveRooms)
		}
	case *protocol.ConversationLeave:
		if _, removed := cs.rooms.Leave(c, s.ConversationId); removed {
			cs.stats.Decr(stats.NumActiveRooms)
		}
	case *protocol.MessageSend:
		cs.handleMessageSend(c, s)
	case *protocol.TypingStart:
		cs.handleTypingStart(c, s)
	case *protocol.TypingStop:
		cs.handleTypingStop(c, s)
	case *protocol.MessageRead:
		if !cs.authorized(c, s.UserId, sig) {
			return
		}
		cs.emit(pubsub.ScopeRoom, s.ConversationId, "", protocol.EventMessageReadUpdate, protocol.MessageReadUpdate{
			ConversationId: s.ConversationId,
			UserId:         s.UserId,
			MessageIds:     s.MessageIds,
		})
	case *protocol.MessageEdit:
		editedAt := s.EditedAt
		if editedAt.IsZero() {
			editedAt = cs.now()
		}
		cs.emit(pubsub.ScopeRoom, s.ConversationId, "", protocol.EventMessageEdited, protocol.MessageEdited{
			MessageId:      s.MessageId,
			ConversationId: s.ConversationId,
			NewContent:     s.NewContent,
			EditedAt:       editedAt,
		})
	case *protocol.MessageDelete:
		deletedAt := s.DeletedAt
		if deletedAt.IsZero() {
			deletedAt = cs.now()
		}
		cs.emit(pubsub.ScopeRoom, s.ConversationId, "", protocol.EventMessageDeleted, protocol.MessageDeleted{
			MessageId:      s.MessageId,
			ConversationId: s.ConversationId,
			Deleted:        true,
			DeletedAt:      deletedAt,
		})
	case *protocol.UpdateLastSeen:
		if !cs.authorized(c, s.UserId, sig) {
			return
		}
		cs.recordLastSeen(c.user.UserId, cs.now())
	}
}

// authorized reports whether userId names the identity c announced.
func (cs *ChatServer) authorized(c *Client, userId string, sig protocol.Signal) bool {
	if userId == c.user.UserId {
		return true
	}

	cs.log.Printf("ignoring %s from connection %s: user %q acting as %q",
		sig.Event(), c.id, c.user.UserId, userId)
	return false
}

func (cs *ChatServer) handleUserJoin(c *Client, s *protocol.UserJoin) {
	if c.identified {
		cs.log.Printf("connection %s already identified as %q", c.id, c.user.UserId)
		return
	}

	if s.UserId != c.session.Id {
		cs.log.Printf("connection %s announced %q but is authenticated as %q", c.id, s.UserId, c.session.Id)
		return
	}

	// the platform's profile wins over what the browser announces
	user := types.PresenceUser{
		UserId: s.UserId,
		Name:   c.session.Name,
		Role:   c.session.Role,
	}
	if user.Name == "" {
		user.Name = s.Name
	}
	if user.Role == "" {
		user.Role = s.Role
	}

	c.user = user
	c.identified = true

	firstLocal := cs.registry.Add(c, user, cs.now())
	if firstLocal {
		cs.stats.Incr(stats.NumOnlineUsers)
	}

	cs.enqueue(c, func(ctx context.Context) {
		count, addErr := cs.store.AddConnection(ctx, user, c.id)

		var (
			snapshot []types.PresenceUser
			listErr  error
		)
		if addErr == nil {
			snapshot, listErr = cs.store.OnlineUsers(ctx)
		}

		cs.post(func() {
			cs.completeJoin(c, user, firstLocal, count, addErr, snapshot, listErr)
		})
	})
}

func (cs *ChatServer) completeJoin(c *Client, user types.PresenceUser, firstLocal bool, count int64,
	addErr error, snapshot []types.PresenceUser, listErr error) {
	online := count == 1
	if addErr != nil {
		cs.log.Printf("presence store unavailable adding %s for %q, using local registry: %v", c.id, user.UserId, addErr)
		online = firstLocal
	}

	if online {
		cs.emit(pubsub.ScopeAll, "", "", protocol.EventPresenceUpdate, presenceUpdate(user, types.StatusOnline))
	}

	if _, ok := cs.clients[c]; !ok {
		return
	}

	if addErr != nil || listErr != nil {
		if listErr != nil {
			cs.log.Printf("presence store unavailable listing users, using local registry: %v", listErr)
		}
		snapshot = cs.registry.Users()
	}

	msg, err := newServerMessage(protocol.EventPresenceList, protocol.PresenceList(snapshot))
	if err != nil {
		cs.log.Println(err)
		return
	}
	c.queueMessage(msg)
}

func (cs *ChatServer) handlePing(c *Client) {
	if !cs.registry.Heartbeat(c, cs.now()) {
		return
	}

	user := c.user
	cs.enqueue(c, func(ctx context.Context) {
		revived, err := cs.store.Refresh(ctx, user, c.id)
		if err != nil {
			cs.log.Printf("refreshing presence of %q: %v", user.UserId, err)
			return
		}

		if revived {
			cs.post(func() {
				cs.log.Printf("presence of %q restored by heartbeat", user.UserId)
				cs.emit(pubsub.ScopeAll, "", "", protocol.EventPresenceUpdate, presenceUpdate(user, types.StatusOnline))
			})
		}
	})
}

func (cs *ChatServer) handleMessageSend(c *Client, s *protocol.MessageSend) {
	if !cs.authorized(c, s.SenderId, s) {
		return
	}

	senderName := s.SenderName
	if senderName == "" {
		senderName = c.user.Name
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = cs.now()
	}

	cs.emit(pubsub.ScopeRoom, s.ConversationId, "", protocol.EventMessageReceive, protocol.MessageReceive{
		ConversationId: s.ConversationId,
		SenderId:       s.SenderId,
		RecipientId:    s.RecipientId,
		Content:        s.Content,
		MessageId:      s.MessageId,
		SenderName:     senderName,
		CreatedAt:      createdAt,
	})
	cs.emit(pubsub.ScopeUser, s.RecipientId, "", protocol.EventMessageNotification, protocol.MessageNotification{
		ConversationId: s.ConversationId,
		SenderId:       s.SenderId,
		SenderName:     senderName,
		Preview:        protocol.Preview(s.Content),
	})
}

func (cs *ChatServer) handleTypingStart(c *Client, s *protocol.TypingStart) {
	if !cs.authorized(c, s.UserId, s) {
		return
	}

	userName := s.UserName
	if userName == "" {
		userName = c.user.Name
	}

	cs.typing.Start(s.ConversationId, s.UserId, userName, c, cs.now())
	cs.emit(pubsub.ScopeRoom, s.ConversationId, c.id, protocol.EventTypingUpdate, protocol.TypingUpdate{
		ConversationId: s.ConversationId,
		UserId:         s.UserId,
		UserName:       userName,
		IsTyping:       true,
	})
}

func (cs *ChatServer) handleTypingStop(c *Client, s *protocol.TypingStop) {
	if !cs.authorized(c, s.UserId, s) {
		return
	}

	cs.typing.Stop(s.ConversationId, s.UserId)
	cs.emit(pubsub.ScopeRoom, s.ConversationId, c.id, protocol.EventTypingUpdate, protocol.TypingUpdate{
		ConversationId: s.ConversationId,
		UserId:         s.UserId,
		UserName:       c.user.Name,
		IsTyping:       false,
	})
}

// handleDisconnect removes c everywhere. Unknown connections are ignored.
func (cs *ChatServer) handleDisconnect(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveClients)

	for i := cs.rooms.LeaveAll(c); i > 0; i-- {
		cs.stats.Decr(stats.NumActiveRooms)
	}

	for _, ch := range cs.typing.ClearClient(c) {
		cs.emitTypingCleared(ch)
	}

	if user, lastLocal, ok := cs.registry.Remove(c); ok {
		if lastLocal {
			cs.stats.Decr(stats.NumOnlineUsers)
		}

		cs.enqueue(c, func(ctx context.Context) {
			remaining, err := cs.store.RemoveConnection(ctx, user.UserId, c.id)
			switch {
			case errors.Is(err, presence.ErrConnectionNotFound):
				// already pruned, whoever pruned it declared the user offline
				return
			case err != nil:
				cs.log.Printf("presence store unavailable removing %s for %q, using local registry: %v",
					c.id, user.UserId, err)
				if !lastLocal {
					return
				}
			case remaining > 0:
				return
			}

			cs.post(func() { cs.declareOffline(user) })
		})
	}

	c.ops.close()
	c.stopClient(websocket.CloseNormalClosure, "")
}

func (cs *ChatServer) emitTypingCleared(ch typingChange) {
	cs.emit(pubsub.ScopeRoom, ch.conversationId, "", protocol.EventTypingUpdate, protocol.TypingUpdate{
		ConversationId: ch.conversationId,
		UserId:         ch.userId,
		UserName:       ch.userName,
		IsTyping:       false,
	})
}

// declareOffline announces that user has no connection left anywhere and
// records the last-seen time.
func (cs *ChatServer) declareOffline(user types.PresenceUser) {
	now := cs.now()
	cs.emit(pubsub.ScopeAll, "", "", protocol.EventPresenceUpdate, presenceUpdate(user, types.StatusOffline))
	cs.recordLastSeen(user.UserId, now)
}

// recordLastSeen persists t in the background and announces it.
func (cs *ChatServer) recordLastSeen(userId string, t time.Time) {
	cs.persistWg.Add(1)
	go func() {
		defer cs.persistWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cs.opts.StoreTimeout)
		defer cancel()

		if err := cs.db.UpdateLastSeen(ctx, userId, t); err != nil {
			cs.log.Printf("recording last seen for %q: %v", userId, err)
		}
	}()

	cs.emit(pubsub.ScopeAll, "", "", protocol.EventLastSeenUpdated, protocol.LastSeenUpdated{
		UserId:   userId,
		LastSeen: t,
	})
}

// emit sends a scoped delivery to every process through the bus.
func (cs *ChatServer) emit(scope pubsub.Scope, target, skipConn, event string, payload any) {
	msg, err := newServerMessage(event, payload)
	if err != nil {
		cs.log.Println(err)
		return
	}

	d := &pubsub.Delivery{
		Origin:   cs.opts.InstanceId,
		Scope:    scope,
		Target:   target,
		SkipConn: skipConn,
		Event:    msg.Event,
		Data:     msg.Data,
	}

	select {
	case cs.outbox <- d:
	default:
		cs.log.Printf("outbox full, delivering %s locally", event)
		cs.deliverLocal(d)
	}
}

// publish drains the outbox onto the bus. A delivery that cannot be
// published still reaches this process's connections.
func (cs *ChatServer) publish() {
	defer close(cs.publisherDone)

	for d := range cs.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), cs.opts.StoreTimeout)
		err := cs.bus.Publish(ctx, d)
		cancel()

		if err != nil {
			cs.log.Printf("publishing %s: %v, delivering locally", d.Event, err)
			d := d
			cs.post(func() { cs.deliverLocal(d) })
		}
	}
}

// deliverLocal fans d out to the matching connections of this process.
func (cs *ChatServer) deliverLocal(d *pubsub.Delivery) {
	var targets []*Client
	switch d.Scope {
	case pubsub.ScopeAll:
		for c := range cs.clients {
			if c.identified {
				targets = append(targets, c)
			}
		}
	case pubsub.ScopeRoom:
		targets = cs.rooms.Members(d.Target)
	case pubsub.ScopeUser:
		targets = cs.registry.Clients(d.Target)
	default:
		cs.log.Printf("unknown delivery scope %q", d.Scope)
		return
	}

	msg := &ServerMessage{Event: d.Event, Data: d.Data}
	for _, c := range targets {
		if d.SkipConn != "" && c.id == d.SkipConn {
			continue
		}
		c.queueMessage(msg)
	}
}

// Shutdown disconnects every local connection, removing it from the
// presence store, and waits for the loop to exit.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
