package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// AccountChangeHandler receives the raw data of a changed account and the
// slot the notification was observed at.
type AccountChangeHandler func(data []byte, slot uint64)

// PubSub is one WebSocket subscription session. Handlers are registered with
// OnAccountChange; Start dials the endpoint, flushes the pending
// subscriptions and launches the read loop. Start is idempotent.
type PubSub struct {
	url    string
	dialer websocket.Dialer
	logger logr.Logger

	// called when the read loop exits, e.g. on a dropped connection
	onDisconnect func(error)

	mu       sync.Mutex
	conn     *websocket.Conn
	started  bool
	handlers map[string]AccountChangeHandler
	pending  map[uint64]string // request id -> address
	subs     map[uint64]string // subscription id -> address
	nextID   uint64
}

func NewPubSub(url string, logger logr.Logger) *PubSub {
	return &PubSub{
		url:      url,
		logger:   logger,
		handlers: make(map[string]AccountChangeHandler),
		pending:  make(map[uint64]string),
		subs:     make(map[uint64]string),
	}
}

// SetDisconnectHandler registers the callback invoked once when the session
// drops. Must be called before Start.
func (p *PubSub) SetDisconnectHandler(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onDisconnect = fn
}

// OnAccountChange subscribes to change notifications for one account address.
// Registered before Start, the subscription is sent when the session opens;
// after Start it is sent immediately.
func (p *PubSub) OnAccountChange(address string, handler AccountChangeHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[address] = handler

	if !p.started {
		return nil
	}

	return p.subscribeLocked(address)
}

// Start opens the session. Calling Start on a running session is a no-op.
func (p *PubSub) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", p.url, err)
	}

	p.conn = conn
	p.started = true

	for address := range p.handlers {
		err := p.subscribeLocked(address)
		if err != nil {
			p.closeLocked()

			return err
		}
	}

	go p.readLoop(ctx, conn)

	return nil
}

// Close tears the session down. The disconnect handler is not invoked for a
// deliberate close.
func (p *PubSub) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onDisconnect = nil
	p.closeLocked()
}

func (p *PubSub) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}

	p.started = false
	p.pending = make(map[uint64]string)
	p.subs = make(map[uint64]string)
}

func (p *PubSub) subscribeLocked(address string) error {
	p.nextID++
	id := p.nextID

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params:  []any{address, encodingParams},
	}

	err := p.conn.WriteJSON(req)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", address, err)
	}

	p.pending[id] = address

	return nil
}

type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context rpcContext    `json:"context"`
			Value   *accountValue `json:"value"`
		} `json:"result"`
	} `json:"params"`
	Error *rpcError `json:"error"`
}

func (p *PubSub) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msg := wsMessage{}

		err := conn.ReadJSON(&msg)
		if err != nil {
			p.handleDisconnect(ctx, err)

			return
		}

		switch {
		case msg.Method == "accountNotification" && msg.Params != nil:
			p.dispatch(msg)
		case msg.ID != 0:
			p.confirmSubscription(msg)
		}
	}
}

func (p *PubSub) confirmSubscription(msg wsMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	address, ok := p.pending[msg.ID]
	if !ok {
		return
	}

	delete(p.pending, msg.ID)

	if msg.Error != nil {
		p.logger.Error(fmt.Errorf("%s (code %d)", msg.Error.Message, msg.Error.Code),
			"Subscription rejected", "address", address)

		return
	}

	subID := uint64(0)

	err := json.Unmarshal(msg.Result, &subID)
	if err != nil {
		p.logger.Error(err, "Unexpected subscription confirmation", "address", address)

		return
	}

	p.subs[subID] = address
	p.logger.V(3).Info("Subscribed", "address", address, "subscription", subID)
}

func (p *PubSub) dispatch(msg wsMessage) {
	p.mu.Lock()
	address, ok := p.subs[msg.Params.Subscription]
	handler := p.handlers[address]
	p.mu.Unlock()

	if !ok || handler == nil {
		return
	}

	info, err := msg.Params.Result.Value.decode(msg.Params.Result.Context.Slot)
	if err != nil || info == nil {
		p.logger.V(1).Info("Dropping malformed notification", "address", address, "err", err)

		return
	}

	handler(info.Data, info.Slot)
}

func (p *PubSub) handleDisconnect(ctx context.Context, err error) {
	p.mu.Lock()
	onDisconnect := p.onDisconnect
	p.closeLocked()
	p.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	p.logger.V(1).Info("Subscription session dropped", "err", err)

	if onDisconnect != nil {
		onDisconnect(err)
	}
}
