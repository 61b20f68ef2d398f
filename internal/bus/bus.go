// Package bus is the protocol layer every inter-bee exchange goes through:
// it persists the message, composes the wire block, and hands delivery to
// the injector. Messages written to the store any other way are protocol
// violations the supervisor alerts on.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/events"
	eventbus "github.com/nyasuto/hive/internal/events/bus"
	"github.com/nyasuto/hive/internal/injector"
	"github.com/nyasuto/hive/internal/store"
)

// SendRequest describes one logical send. To may be bee.All; the bus then
// fans out to every real bee except the sender under one conversation id.
type SendRequest struct {
	From     bee.Name
	To       bee.Name
	Type     string
	Subject  string
	Content  string
	TaskID   *string
	Priority store.MessagePriority
	ReplyTo  *int64
	// Correlate groups the message into an existing conversation. Broadcasts
	// without one get a fresh conversation id.
	Correlate *string
	ExpiresAt *time.Time
}

// Bus coordinates persist-then-inject for inter-bee messages.
type Bus struct {
	store    *store.Store
	injector *injector.Injector
	events   eventbus.EventBus
	types    map[string]struct{}
	logger   *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	pairMus map[pairKey]*sync.Mutex
}

type pairKey struct {
	from bee.Name
	to   bee.Name
}

// New creates the bus. extraTypes extends the built-in message type set.
func New(st *store.Store, inj *injector.Injector, ev eventbus.EventBus, extraTypes []string, log *logger.Logger) *Bus {
	types := map[string]struct{}{
		store.TypeInfo:          {},
		store.TypeQuestion:      {},
		store.TypeRequest:       {},
		store.TypeResponse:      {},
		store.TypeAlert:         {},
		store.TypeTaskUpdate:    {},
		store.TypeInstruction:   {},
		store.TypeConversation:  {},
		store.TypeRoleInjection: {},
		store.TypeNotification:  {},
		store.TypeHeartbeat:     {},
	}
	for _, t := range extraTypes {
		if t != "" {
			types[t] = struct{}{}
		}
	}
	return &Bus{
		store:    st,
		injector: inj,
		events:   ev,
		types:    types,
		logger:   log.WithFields(zap.String("component", "bus")),
		now:      time.Now,
	}
}

// SetClock overrides the bus clock. Test hook.
func (b *Bus) SetClock(now func() time.Time) { b.now = now }

// Send persists and delivers a message, returning the persisted message IDs
// (one per recipient). Broadcast delivery is at-least-once per recipient:
// every row is persisted first, each recipient's injection outcome is logged
// independently, and delivery failures come back joined while the persisted
// IDs remain valid.
func (b *Bus) Send(ctx context.Context, req SendRequest) ([]int64, error) {
	if err := b.validate(&req); err != nil {
		return nil, err
	}

	targets, convID, err := b.expand(req)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(targets))
	var delivery []error
	for _, target := range targets {
		id, err := b.sendOne(ctx, req, target, convID)
		if err != nil {
			if id == 0 {
				// Persist failed: nothing reached this recipient at all.
				return ids, err
			}
			delivery = append(delivery, err)
		}
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return ids, errors.Join(delivery...)
}

// sendOne persists and injects for a single recipient. The per-pair lock is
// held across both steps so messages between one sender and one receiver hit
// the injector in Send call order.
func (b *Bus) sendOne(ctx context.Context, req SendRequest, target bee.Name, convID *string) (int64, error) {
	mu := b.pairMutex(req.From, target)
	mu.Lock()
	defer mu.Unlock()

	msg := &store.Message{
		FromBee:        req.From.String(),
		ToBee:          target,
		Type:           req.Type,
		Subject:        req.Subject,
		Content:        req.Content,
		TaskID:         req.TaskID,
		Priority:       req.Priority,
		ReplyTo:        req.ReplyTo,
		ExpiresAt:      req.ExpiresAt,
		SenderCLIUsed:  true,
		ConversationID: convID,
	}
	if err := b.store.Enqueue(ctx, msg); err != nil {
		return 0, err
	}

	payload := WirePayload(msg)
	_, injErr := b.injector.Send(ctx, target, payload, injector.Options{
		Type:   msg.Type,
		Sender: msg.FromBee,
		Metadata: map[string]any{
			"message_id": msg.ID,
		},
	})

	b.touch(ctx, req.From, target)
	b.publish(ctx, msg, injErr)

	if injErr != nil {
		b.logger.Warn("message persisted but not delivered",
			zap.Int64("message_id", msg.ID),
			zap.String("from", msg.FromBee),
			zap.String("to", target.String()),
			zap.Error(injErr))
		return msg.ID, injErr
	}
	return msg.ID, nil
}

// Receive returns a bee's pending messages in delivery order. Callers own
// acknowledgement via Ack.
func (b *Bus) Receive(ctx context.Context, to bee.Name, includeProcessed bool, max int) ([]*store.Message, error) {
	if !to.IsRecipient() || to == bee.All {
		return nil, apperrors.Validation("cannot receive for %q", to)
	}
	return b.store.Dequeue(ctx, to, includeProcessed, max)
}

// Ack marks a message consumed. Idempotent.
func (b *Bus) Ack(ctx context.Context, id int64) error {
	return b.store.MarkProcessed(ctx, id)
}

func (b *Bus) validate(req *SendRequest) error {
	if !req.From.IsSender() {
		return apperrors.Validation("invalid sender %q", req.From)
	}
	if !req.To.IsRecipient() {
		return apperrors.Validation("invalid recipient %q", req.To)
	}
	if req.Content == "" {
		return apperrors.Validation("message content must be non-empty")
	}
	if _, ok := b.types[req.Type]; !ok {
		return apperrors.Validation("unknown message type %q", req.Type)
	}
	if req.Priority == "" {
		req.Priority = store.MsgNormal
	}
	if !req.Priority.Valid() {
		return apperrors.Validation("unknown message priority %q", req.Priority)
	}
	return nil
}

// expand resolves the recipient list and conversation id. Broadcasts skip
// the sender and share one conversation.
func (b *Bus) expand(req SendRequest) ([]bee.Name, *string, error) {
	if req.To != bee.All {
		return []bee.Name{req.To}, req.Correlate, nil
	}
	var targets []bee.Name
	for _, t := range bee.RealBees() {
		if t != req.From {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return nil, nil, apperrors.Validation("broadcast from %q has no recipients", req.From)
	}
	convID := req.Correlate
	if convID == nil {
		id := uuid.New().String()
		convID = &id
	}
	return targets, convID, nil
}

// touch refreshes last_activity for the participants. Advisory: failures are
// logged, never surfaced, so delivery status stays the caller's only signal.
func (b *Bus) touch(ctx context.Context, from, to bee.Name) {
	for _, n := range []bee.Name{from, to} {
		if !n.IsReal() {
			continue
		}
		if err := b.store.TouchActivity(ctx, n); err != nil {
			b.logger.Warn("failed to touch activity",
				zap.String("bee", n.String()), zap.Error(err))
		}
	}
}

func (b *Bus) publish(ctx context.Context, msg *store.Message, injErr error) {
	if b.events == nil {
		return
	}
	ev := eventbus.NewEvent(events.MessageSent, "bus", map[string]any{
		"message_id": msg.ID,
		"from":       msg.FromBee,
		"to":         msg.ToBee.String(),
		"type":       msg.Type,
		"delivered":  injErr == nil,
	})
	if err := b.events.Publish(ctx, events.MessageSent, ev); err != nil {
		b.logger.Debug("event publish failed", zap.Error(err))
	}
}

func (b *Bus) pairMutex(from, to bee.Name) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := pairKey{from: from, to: to}
	mu, ok := b.pairMus[key]
	if !ok {
		if b.pairMus == nil {
			b.pairMus = make(map[pairKey]*sync.Mutex)
		}
		mu = &sync.Mutex{}
		b.pairMus[key] = mu
	}
	return mu
}
