package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/konnection/roomstate/internal/kvstore"
	"go.uber.org/zap"
)

var (
	ErrEmptyPeer         = errors.New("chat: peer is required")
	ErrEmptyMessage      = errors.New("chat: message text is required")
	ErrInvalidAttachment = errors.New("chat: attachment requires a document reference and filename")
	errMissingStore      = errors.New("collection store is required")
)

// ThreadKey identifies one conversation. Role separates threads with the same
// peer, for example a landlord and the listing assistant.
type ThreadKey struct {
	Peer string `json:"peer"`
	Role string `json:"role,omitempty"`
}

func NewThreadKey(peer, role string) (ThreadKey, error) {
	key := ThreadKey{Peer: strings.TrimSpace(peer), Role: strings.TrimSpace(role)}
	if key.Peer == "" {
		return ThreadKey{}, ErrEmptyPeer
	}
	return key, nil
}

// storageKey escapes both parts so distinct thread keys never collide.
func (k ThreadKey) storageKey() (kvstore.Key, error) {
	if k.Peer == "" {
		return kvstore.Key{}, ErrEmptyPeer
	}
	scope := url.PathEscape(k.Peer)
	if k.Role != "" {
		scope += "/" + url.PathEscape(k.Role)
	}
	return kvstore.NewKey(kvstore.CategoryChat, scope)
}

type Sender string

const (
	SenderMe   Sender = "me"
	SenderPeer Sender = "peer"
)

type MessageKind string

const (
	KindText        MessageKind = "text"
	KindContractPDF MessageKind = "contract_pdf"
)

// ContractAttachment references a rendered contract document.
type ContractAttachment struct {
	DocumentRef  string `json:"documentRef"`
	Filename     string `json:"filename"`
	ListingID    string `json:"listingId"`
	Title        string `json:"title"`
	PriceMonthly int64  `json:"priceMonthly"`
	Deposit      int64  `json:"deposit"`
}

type Message struct {
	ID           string              `json:"id"`
	From         Sender              `json:"from"`
	Kind         MessageKind         `json:"type"`
	Text         string              `json:"text,omitempty"`
	Attachment   *ContractAttachment `json:"attachment,omitempty"`
	Failed       bool                `json:"failed,omitempty"`
	SentAtMillis int64               `json:"when"`
}

type ThreadsConfig struct {
	Store  kvstore.Collection
	Clock  func() time.Time
	Logger *zap.Logger
}

// Threads persists the ordered message log of every thread.
type Threads struct {
	mu     sync.Mutex
	store  kvstore.Collection
	clock  func() time.Time
	logger *zap.Logger
}

func NewThreads(cfg ThreadsConfig) (*Threads, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Threads{store: cfg.Store, clock: clock, logger: logger}, nil
}

func (t *Threads) Messages(ctx context.Context, thread ThreadKey) ([]Message, error) {
	key, err := thread.storageKey()
	if err != nil {
		return nil, err
	}
	messages, err := kvstore.Read(ctx, t.store, key, []Message{})
	if err != nil {
		return nil, fmt.Errorf("chat: read thread: %w", err)
	}
	return messages, nil
}

func (t *Threads) AppendText(ctx context.Context, thread ThreadKey, from Sender, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	return t.append(ctx, thread, Message{From: from, Kind: KindText, Text: text})
}

// AppendAttachment records a contract document sent by this device.
func (t *Threads) AppendAttachment(ctx context.Context, thread ThreadKey, attachment ContractAttachment) (Message, error) {
	if attachment.DocumentRef == "" || attachment.Filename == "" {
		return Message{}, ErrInvalidAttachment
	}
	return t.append(ctx, thread, Message{From: SenderMe, Kind: KindContractPDF, Attachment: &attachment})
}

func (t *Threads) append(ctx context.Context, thread ThreadKey, message Message) (Message, error) {
	key, err := thread.storageKey()
	if err != nil {
		return Message{}, err
	}
	message.ID = uuid.NewString()
	message.SentAtMillis = t.clock().UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()
	messages, err := kvstore.Read(ctx, t.store, key, []Message{})
	if err != nil {
		return Message{}, fmt.Errorf("chat: read thread: %w", err)
	}
	if err := t.store.Write(ctx, key, append(messages, message)); err != nil {
		t.logger.Error("chat append failed", zap.String("thread", key.String()), zap.Error(err))
		return Message{}, fmt.Errorf("chat: write thread: %w", err)
	}
	return message, nil
}
