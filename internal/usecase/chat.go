package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"captain-agent/internal/bill"
	"captain-agent/internal/compliance"
	"captain-agent/internal/domain"
)

const (
	defaultUser         = "demo"
	defaultMaxMessage   = 1000
	maxIdentifierLength = 128

	msgEmptyMessage = "Please enter a message."
)

// InvoiceRenderer renders free-form invoices.
type InvoiceRenderer interface {
	RenderInvoice(b domain.Bill) ([]byte, domain.BillSummary, error)
}

// ChatService is the entry point of every inbound request. It validates
// input, serializes turns per conversation and owns the non-chat
// operations.
type ChatService struct {
	controller Controller
	store      StateStore
	invoices   InvoiceRenderer
	bills      bill.Store
	kb         *compliance.KnowledgeBase
	locks      *keyedMutex

	maxMessageLen int
	defaultUser   string
	now           func() time.Time
}

type ChatOption func(*ChatService)

func WithMaxMessageLength(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxMessageLen = n
		}
	}
}

func WithDefaultUser(user string) ChatOption {
	return func(s *ChatService) {
		if u := strings.TrimSpace(user); u != "" {
			s.defaultUser = u
		}
	}
}

func WithChatClock(now func() time.Time) ChatOption {
	return func(s *ChatService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewChatService(controller Controller, store StateStore, invoices InvoiceRenderer, bills bill.Store, kb *compliance.KnowledgeBase, opts ...ChatOption) (*ChatService, error) {
	if controller == nil {
		return nil, errors.New("usecase: controller must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if invoices == nil {
		return nil, errors.New("usecase: invoice renderer must not be nil")
	}
	if bills == nil {
		return nil, errors.New("usecase: bill store must not be nil")
	}
	if kb == nil {
		return nil, errors.New("usecase: knowledge base must not be nil")
	}
	s := &ChatService{
		controller:    controller,
		store:         store,
		invoices:      invoices,
		bills:         bills,
		kb:            kb,
		locks:         newKeyedMutex(),
		maxMessageLen: defaultMaxMessage,
		defaultUser:   defaultUser,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type ChatInput struct {
	User    string
	Session string
	Message string
}

type ChatOutput struct {
	Reply string
}

// Chat runs one conversation turn. Only input validation fails; every
// other fault is folded into the reply by the controller.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, invalidInput("empty_message", msgEmptyMessage)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, invalidInput("message_too_long", "Your message is too long. Please shorten it and try again.")
	}
	user, key, err := s.conversationKey(in.User, in.Session)
	if err != nil {
		return ChatOutput{}, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	reply := s.controller.Turn(ctx, TurnInput{Key: key, UserID: user, Message: message})
	return ChatOutput{Reply: reply}, nil
}

// History returns the full message log of a conversation.
func (s *ChatService) History(ctx context.Context, user, session string) ([]domain.Message, error) {
	_, key, err := s.conversationKey(user, session)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, key, 0)
	if err != nil {
		return nil, newError(ErrorInternal, "history_load_error", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// GenerateBill renders an invoice without storing it.
func (s *ChatService) GenerateBill(b domain.Bill) ([]byte, string, error) {
	if err := bill.Validate(b); err != nil {
		return nil, "", newError(ErrorInvalidInput, "invalid_bill", err)
	}
	pdf, _, err := s.invoices.RenderInvoice(b)
	if err != nil {
		return nil, "", newError(ErrorInternal, "bill_render_error", err)
	}
	return pdf, bill.InvoiceName(s.now()), nil
}

// LaidBill describes a stored invoice.
type LaidBill struct {
	FileName string
	URL      string
	Summary  domain.BillSummary
}

// GenerateLaidBill renders an invoice and stores it for later download.
func (s *ChatService) GenerateLaidBill(ctx context.Context, b domain.Bill) (LaidBill, error) {
	if err := bill.Validate(b); err != nil {
		return LaidBill{}, newError(ErrorInvalidInput, "invalid_bill", err)
	}
	pdf, summary, err := s.invoices.RenderInvoice(b)
	if err != nil {
		return LaidBill{}, newError(ErrorInternal, "bill_render_error", err)
	}
	name := bill.InvoiceName(s.now())
	url, err := s.bills.Put(ctx, name, pdf)
	if err != nil {
		return LaidBill{}, newError(ErrorUpstream, "bill_store_error", err)
	}
	return LaidBill{FileName: name, URL: url, Summary: summary}, nil
}

// Bill fetches a stored bill by file name.
func (s *ChatService) Bill(ctx context.Context, name string) ([]byte, error) {
	return s.bills.Get(ctx, name)
}

// AnalyzeUpload extracts key fields from an uploaded trade document.
func (s *ChatService) AnalyzeUpload(name string, data []byte) (domain.DocumentReport, error) {
	if strings.TrimSpace(name) == "" {
		return domain.DocumentReport{}, invalidInput("missing_file", "No file uploaded.")
	}
	if len(data) > compliance.MaxDocumentBytes {
		return domain.DocumentReport{}, invalidInput("file_too_large", "The file is too large.")
	}
	report, err := compliance.AnalyzeDocument(name, data)
	if err != nil {
		return domain.DocumentReport{}, newError(ErrorInvalidInput, "unreadable_document", err)
	}
	return report, nil
}

// SearchKnowledge queries the compliance knowledge base.
func (s *ChatService) SearchKnowledge(query, category string, limit int) ([]compliance.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidInput("empty_query", "Please enter a search query.")
	}
	docs := s.kb.Search(query, category, limit)
	if docs == nil {
		docs = []compliance.Document{}
	}
	return docs, nil
}

// AddKnowledge stores a custom guidance document and returns its id.
func (s *ChatService) AddKnowledge(title, content, category string, tags []string) (string, error) {
	id, err := s.kb.Add(title, content, category, tags)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_document", err)
	}
	return id, nil
}

// KnowledgeStats reports the size of the knowledge base.
func (s *ChatService) KnowledgeStats() compliance.Stats {
	return s.kb.Stats()
}

// conversationKey resolves the user id and the store key. A session scopes
// several conversations under one user.
func (s *ChatService) conversationKey(user, session string) (string, string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		user = s.defaultUser
	}
	session = strings.TrimSpace(session)
	if len(user) > maxIdentifierLength || len(session) > maxIdentifierLength {
		return "", "", invalidInput("identifier_too_long", "User or session id is too long.")
	}
	if strings.Contains(user, ":") {
		return "", "", invalidInput("invalid_user", "User id must not contain ':'.")
	}
	if session == "" {
		return user, user, nil
	}
	return user, user + ":" + session, nil
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
