// Package chats is the ownership-checked entry point to chat persistence.
package chats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leo-pe2/ai-chat-main/internal/domain"
	"github.com/leo-pe2/ai-chat-main/internal/gateway"
	"github.com/leo-pe2/ai-chat-main/internal/notify"
	"github.com/leo-pe2/ai-chat-main/internal/provider"
	"github.com/leo-pe2/ai-chat-main/internal/store"
	"github.com/leo-pe2/ai-chat-main/internal/telemetry"
)

// ErrorReply is stored as the bot's answer when the model call fails.
const ErrorReply = "An error occurred. Please try again later."

var (
	// ErrNotFound is returned for chats that do not exist or belong to
	// another user.
	ErrNotFound = errors.New("chat not found")

	// ErrEmptyMessage is returned when a message has no text.
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// Gateway produces model answers and titles.
type Gateway interface {
	HandleChatRequest(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
	Supports(id provider.ModelID) bool
}

// SendRequest is one user message to be answered.
type SendRequest struct {
	Text   string           `json:"text"`
	Model  provider.ModelID `json:"model"`
	Search bool             `json:"search,omitempty"`
}

// Service wraps a ChatRepository with ownership checks, per-chat write
// ordering, and change notification.
type Service struct {
	repo    store.ChatRepository
	broker  notify.Broker
	gateway Gateway
	sink    telemetry.Sink
	metrics *telemetry.Metrics
	logger  *slog.Logger
	locks   *keyedMutex
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithGateway enables Send.
func WithGateway(g Gateway) Option {
	return func(s *Service) { s.gateway = g }
}

// WithSink sets where failed exchanges are reported.
func WithSink(sink telemetry.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics records store writes in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a chat service.
func NewService(repo store.ChatRepository, broker notify.Broker, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		broker: broker,
		sink:   telemetry.Nop{},
		logger: slog.Default(),
		locks:  newKeyedMutex(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the caller's visible chats, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.Chat, error) {
	chats, err := s.repo.ListVisibleChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// Get returns one of the caller's chats. Soft-deleted chats stay loadable.
func (s *Service) Get(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil || chat.UserID != userID {
		return nil, ErrNotFound
	}
	return chat, nil
}

// Create starts a new chat. An empty title creates a hidden placeholder
// that stays out of listings until it is titled.
func (s *Service) Create(ctx context.Context, userID, title string) (*domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.PlaceholderTitle
	}
	chat := &domain.Chat{
		ID:        s.newID(),
		UserID:    userID,
		Title:     title,
		Content:   []domain.Message{},
		IsVisible: title != domain.PlaceholderTitle,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.metrics.ObserveMutation("create")
	s.publish(ctx, notify.ChatCreated, userID, chat.ID)
	return chat, nil
}

// SaveContent replaces the conversation of one of the caller's chats.
func (s *Service) SaveContent(ctx context.Context, userID, chatID string, content []domain.Message) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return err
	}
	return s.saveContent(ctx, userID, chatID, content)
}

func (s *Service) saveContent(ctx context.Context, userID, chatID string, content []domain.Message) error {
	if err := s.repo.SaveContent(ctx, chatID, content); err != nil {
		return fmt.Errorf("save chat content: %w", err)
	}
	s.metrics.ObserveMutation("save_content")
	s.publish(ctx, notify.ChatUpdated, userID, chatID)
	return nil
}

// SetTitleAndReveal names one of the caller's chats and makes it visible.
func (s *Service) SetTitleAndReveal(ctx context.Context, userID, chatID, title string) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return err
	}
	return s.setTitleAndReveal(ctx, userID, chatID, title)
}

func (s *Service) setTitleAndReveal(ctx context.Context, userID, chatID, title string) error {
	if err := s.repo.SetTitleAndReveal(ctx, chatID, title); err != nil {
		return fmt.Errorf("set chat title: %w", err)
	}
	s.metrics.ObserveMutation("set_title")
	s.publish(ctx, notify.ChatTitled, userID, chatID)
	return nil
}

// SoftDelete hides one of the caller's chats from listings.
func (s *Service) SoftDelete(ctx context.Context, userID, chatID string) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	s.metrics.ObserveMutation("soft_delete")
	s.publish(ctx, notify.ChatDeleted, userID, chatID)
	return nil
}

// PurgeStalePlaceholders removes placeholder chats older than the
// retention window. Purged chats were never listed, so no event is sent.
func (s *Service) PurgeStalePlaceholders(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.PurgeStalePlaceholders(ctx, now.Add(-domain.PlaceholderRetention))
	if err != nil {
		return 0, fmt.Errorf("purge placeholder chats: %w", err)
	}
	if n > 0 {
		s.metrics.ObserveMutation("purge")
	}
	return n, nil
}

// Subscribe streams change events for the caller's chats.
func (s *Service) Subscribe(ctx context.Context, userID string) (*notify.Subscription, error) {
	sub, err := s.broker.Subscribe(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to chat changes: %w", err)
	}
	return sub, nil
}

// Send runs one full exchange: a placeholder chat is titled, the user
// message is stored, the model answers, and the answer is stored. The
// chat stays locked for the whole exchange.
// A failed model call stores ErrorReply instead and is not an error.
func (s *Service) Send(ctx context.Context, userID, chatID string, req SendRequest) (*domain.Chat, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}
	if s.gateway == nil {
		return nil, errors.New("send: no gateway configured")
	}
	if !s.gateway.Supports(req.Model) {
		return nil, &gateway.ClientError{Message: provider.ErrUnknownModel.Error(), Err: provider.ErrUnknownModel}
	}

	unlock := s.locks.Lock(chatID)
	defer unlock()

	chat, err := s.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	if chat.IsPlaceholder() {
		s.nameChat(ctx, userID, chat, req.Text)
	}

	history := chat.Content
	chat.Content = chat.Append(domain.Message{Sender: domain.SenderUser, Text: req.Text})
	if err := s.saveContent(ctx, userID, chatID, chat.Content); err != nil {
		return nil, err
	}

	reply := ErrorReply
	resp, err := s.gateway.HandleChatRequest(ctx, gateway.ChatRequest{
		Prompt:  req.Text,
		Model:   req.Model,
		History: history,
		Search:  req.Search,
	})
	if err != nil {
		// Upstream failures were already reported by the gateway.
		var ue *gateway.UpstreamError
		if !errors.As(err, &ue) {
			s.sink.Report(fmt.Sprintf("Error sending message in chat %s: %v", chatID, err))
		}
		s.logger.Error("[CHATS] Model call failed", "chat_id", chatID, "model", req.Model, "error", err)
	} else {
		reply = resp.Response
	}

	chat.Content = chat.Append(domain.Message{Sender: domain.SenderBot, Text: reply})
	if err := s.saveContent(ctx, userID, chatID, chat.Content); err != nil {
		return nil, err
	}
	return chat, nil
}

// nameChat titles a placeholder chat after its first user message. If the
// title model fails the chat is revealed as gateway.DefaultTitle, so the
// placeholder purge never removes a chat that has been used.
func (s *Service) nameChat(ctx context.Context, userID string, chat *domain.Chat, text string) {
	if first, ok := chat.FirstUserMessage(); ok {
		text = first
	}
	title, err := s.gateway.GenerateTitle(ctx, text)
	if err != nil {
		s.logger.Warn("[CHATS] Title generation failed", "chat_id", chat.ID, "error", err)
		title = gateway.DefaultTitle
	}
	if err := s.setTitleAndReveal(ctx, userID, chat.ID, title); err != nil {
		s.logger.Warn("[CHATS] Failed to store title", "chat_id", chat.ID, "error", err)
		return
	}
	chat.Title = title
	chat.IsVisible = true
}

func (s *Service) publish(ctx context.Context, kind notify.Kind, userID, chatID string) {
	if s.broker == nil {
		return
	}
	event := notify.Event{Kind: kind, UserID: userID, ChatID: chatID, At: s.now()}
	if err := s.broker.Publish(ctx, event); err != nil {
		s.logger.Warn("[CHATS] Failed to publish change", "chat_id", chatID, "kind", kind, "error", err)
	}
}
