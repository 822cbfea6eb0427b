package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/halaqah-id/halaqah-realtime/internal/protocol"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultTypingTimeout     = 5 * time.Second
	DefaultReconnectInterval = 500 * time.Millisecond
	DefaultMaxReconnect      = 30 * time.Second

	writeWait        = 10 * time.Second
	maxNotifications = 100
)

var ErrNotConnected = errors.New("not connected")

type Options struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8000/ws.
	URL string
	// Token is the session token, sent as a bearer token on every dial.
	Token string
	// User is the identity announced with user:join after each connect.
	User types.PresenceUser

	HeartbeatInterval time.Duration
	TypingTimeout     time.Duration
	ReconnectInterval time.Duration
	MaxReconnect      time.Duration

	Dialer *websocket.Dialer
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.MaxReconnect <= 0 {
		o.MaxReconnect = DefaultMaxReconnect
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

type typingEntry struct {
	userName  string
	startedAt time.Time
}

// PresenceContext keeps one session's view of who is online, who is typing
// and the messages of the conversations it joined, over a single websocket
// that is re-dialed whenever it drops.
type PresenceContext struct {
	opts Options
	log  *log.Logger
	now  func() time.Time

	// writeMu serializes frames on conn.
	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	rooms         map[string]struct{}
	online        map[string]types.PresenceUser
	typing        map[string]map[string]typingEntry
	lastSeen      map[string]time.Time
	messages      map[string][]Message
	notifications []protocol.MessageNotification

	changes   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewPresenceContext(opts Options, logger *log.Logger) *PresenceContext {
	opts.setDefaults()
	return &PresenceContext{
		opts:     opts,
		log:      logger,
		now:      time.Now,
		rooms:    make(map[string]struct{}),
		online:   make(map[string]types.PresenceUser),
		typing:   make(map[string]map[string]typingEntry),
		lastSeen: make(map[string]time.Time),
		messages: make(map[string][]Message),
		changes:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Changes signals after every state change. Signals coalesce: a receiver
// should read the state again rather than count them.
func (p *PresenceContext) Changes() <-chan struct{} {
	return p.changes
}

func (p *PresenceContext) notify() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// Run keeps the session connected until ctx is cancelled or Close is called.
func (p *PresenceContext) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-p.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.opts.ReconnectInterval),
		backoff.WithMaxInterval(p.opts.MaxReconnect),
		backoff.WithMaxElapsedTime(0),
	), ctx)

	for {
		established, err := p.session(ctx)
		p.disconnected()

		if ctx.Err() != nil {
			return nil
		}
		if established {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		p.log.Printf("connection lost: %v, reconnecting in %s", err, wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// Close ends the session. It is safe to call more than once.
func (p *PresenceContext) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})

	p.mu.Lock()
	cleared := len(p.typing) > 0
	p.typing = make(map[string]map[string]typingEntry)
	p.mu.Unlock()

	if cleared {
		p.notify()
	}
	return nil
}

// session dials once and serves the connection until it drops. established
// reports whether the dial succeeded.
func (p *PresenceContext) session(ctx context.Context) (established bool, err error) {
	header := http.Header{}
	if p.opts.Token != "" {
		header.Set("Authorization", "Bearer "+p.opts.Token)
	}

	conn, _, err := p.opts.Dialer.DialContext(ctx, p.opts.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", p.opts.URL, err)
	}
	defer conn.Close()

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	rooms := sortedKeys(p.rooms)
	p.mu.Unlock()
	p.notify()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			p.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			p.writeMu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	// identity first, so the room joins are accepted
	if err := p.send(&protocol.UserJoin{
		UserId: p.opts.User.UserId,
		Name:   p.opts.User.Name,
		Role:   p.opts.User.Role,
	}); err != nil {
		return true, err
	}
	for _, id := range rooms {
		if err := p.send(&protocol.ConversationJoin{ConversationId: id}); err != nil {
			return true, err
		}
	}

	go p.heartbeat(stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			p.log.Printf("dropping malformed frame: %v", err)
			continue
		}
		if err := p.apply(f); err != nil {
			p.log.Printf("dropping %s: %v", f.Event, err)
		}
	}
}

func (p *PresenceContext) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(p.opts.HeartbeatInterval)
	defer ticker.Stop()

	expiry := time.NewTicker(p.opts.TypingTimeout / 2)
	defer expiry.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.send(&protocol.PresencePing{}); err != nil {
				p.log.Printf("heartbeat: %v", err)
				continue
			}
			if err := p.UpdateLastSeen(); err != nil {
				p.log.Printf("heartbeat: %v", err)
			}
		case <-expiry.C:
			if p.expireTyping(p.now()) {
				p.notify()
			}
		case <-stop:
			return
		}
	}
}

func (p *PresenceContext) disconnected() {
	p.mu.Lock()
	p.conn = nil
	p.connected = false
	p.typing = make(map[string]map[string]typingEntry)
	p.mu.Unlock()
	p.notify()
}

func (p *PresenceContext) send(sig protocol.Signal) error {
	f, err := protocol.EncodeSignal(sig)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", sig.Event(), err)
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", sig.Event(), err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
