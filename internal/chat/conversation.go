package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const SendFailureNotice = "Failed to send. Please try again."

var (
	ErrNoReply             = errors.New("chat: no peer reply to translate")
	ErrUnsupportedLanguage = errors.New("chat: unsupported language")
	errMissingAssistant    = errors.New("assistant is required")
)

// Languages lists the translation targets offered to users.
var Languages = []string{"en", "ko", "ja", "zh", "ru", "uz", "es", "fr", "vi"}

// Assistant answers chat messages on behalf of the peer.
type Assistant interface {
	Chat(ctx context.Context, message string) (string, error)
	Translate(ctx context.Context, message, language string) (string, error)
}

// Conversation drives a thread against the remote assistant.
type Conversation struct {
	threads   *Threads
	assistant Assistant
	logger    *zap.Logger
}

func NewConversation(threads *Threads, assistant Assistant, logger *zap.Logger) (*Conversation, error) {
	if threads == nil {
		return nil, errMissingStore
	}
	if assistant == nil {
		return nil, errMissingAssistant
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{threads: threads, assistant: assistant, logger: logger}, nil
}

// Send records text, asks the assistant and records its reply. When the
// assistant fails a failure notice is recorded instead and the error returned.
func (c *Conversation) Send(ctx context.Context, thread ThreadKey, text string) ([]Message, error) {
	sent, err := c.threads.AppendText(ctx, thread, SenderMe, text)
	if err != nil {
		return nil, err
	}
	reply, askErr := c.assistant.Chat(ctx, sent.Text)
	if askErr != nil {
		c.logger.Warn("chat send failed", zap.String("peer", thread.Peer), zap.Error(askErr))
		notice, err := c.threads.append(ctx, thread, Message{From: SenderPeer, Kind: KindText, Text: SendFailureNotice, Failed: true})
		if err != nil {
			return nil, err
		}
		return []Message{sent, notice}, askErr
	}
	answer, err := c.threads.AppendText(ctx, thread, SenderPeer, reply)
	if errors.Is(err, ErrEmptyMessage) {
		return []Message{sent}, nil
	}
	if err != nil {
		return nil, err
	}
	return []Message{sent, answer}, nil
}

// TranslateLast translates the latest successful peer reply and appends the result.
func (c *Conversation) TranslateLast(ctx context.Context, thread ThreadKey, language string) (Message, error) {
	if !supportedLanguage(language) {
		return Message{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	messages, err := c.threads.Messages(ctx, thread)
	if err != nil {
		return Message{}, err
	}
	var last *Message
	for i := len(messages) - 1; i >= 0; i-- {
		candidate := messages[i]
		if candidate.From == SenderPeer && candidate.Kind == KindText && !candidate.Failed {
			last = &candidate
			break
		}
	}
	if last == nil {
		return Message{}, ErrNoReply
	}
	translated, err := c.assistant.Translate(ctx, last.Text, language)
	if err != nil {
		c.logger.Warn("chat translate failed", zap.String("peer", thread.Peer), zap.String("language", language), zap.Error(err))
		return Message{}, err
	}
	return c.threads.AppendText(ctx, thread, SenderPeer, translated)
}

// RequestContract seeds the thread with a contract request for roomID.
func (c *Conversation) RequestContract(ctx context.Context, thread ThreadKey, roomID string) (Message, error) {
	return c.threads.AppendText(ctx, thread, SenderMe, ContractRequestText(thread.Peer, roomID))
}

// ContractRequestText is the draft message sent when asking for a contract.
func ContractRequestText(to, roomID string) string {
	if to == "" {
		to = "Landlord"
	}
	return fmt.Sprintf("Hello %s, I’d like to request a contract for room #%s.\n"+
		"My details:\n• Full name: ______\n• Email: ______\n• Phone: ______\n• Intended move-in date: ______\n\n"+
		"If everything looks good, please confirm and share the contract PDF.", to, roomID)
}

func supportedLanguage(language string) bool {
	for _, candidate := range Languages {
		if candidate == language {
			return true
		}
	}
	return false
}
