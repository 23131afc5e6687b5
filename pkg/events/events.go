package events

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// Event is one of the typed notifications emitted by a distributor.
// The set is closed: only types in this package implement it.
type Event interface {
	// Name returns the wire name of the event
	Name() string

	isEvent()
}

// Issued is emitted whenever units are credited through claim, mint or free mint
type Issued struct {
	TokenID   types.TokenID
	Amount    *uint256.Int
	Recipient common.Address
}

// FundsTransferred is emitted when a paid mint pulls payment into the wallet
type FundsTransferred struct {
	Payer  common.Address
	Payee  common.Address
	Amount *uint256.Int
}

// RootPublished is emitted when an administrator publishes a merkle root
type RootPublished struct {
	Root            common.Hash
	MetadataPointer string
}

func (Issued) Name() string           { return "NFTMinted" }
func (FundsTransferred) Name() string { return "FundsTransferred" }
func (RootPublished) Name() string    { return "RootPublished" }

func (Issued) isEvent()           {}
func (FundsTransferred) isEvent() {}
func (RootPublished) isEvent()    {}

// ISink receives events after the operation that produced them has committed.
// Emit must not block for long; it runs while the distributor holds its lock.
type ISink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards every event
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// MultiSink forwards each event to every wrapped sink in order
type MultiSink []ISink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

// LogSink writes events to a zap logger at info level
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs every event
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Emit(_ context.Context, event Event) {
	sugar := l.logger.Sugar()
	switch e := event.(type) {
	case Issued:
		sugar.Infow("Event", "name", e.Name(), "token_id", e.TokenID, "amount", e.Amount.Dec(), "recipient", e.Recipient.Hex())
	case FundsTransferred:
		sugar.Infow("Event", "name", e.Name(), "payer", e.Payer.Hex(), "payee", e.Payee.Hex(), "amount", e.Amount.Dec())
	case RootPublished:
		sugar.Infow("Event", "name", e.Name(), "root", e.Root.Hex(), "metadata_pointer", e.MetadataPointer)
	}
}

// Recorder keeps every event in memory, for tests and diagnostics
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in emission order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops all recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
