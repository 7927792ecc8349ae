package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_counsel/pkg"

	"github.com/bytedance/sonic"
)

const (
	// SessionTTL is the default session TTL (40 minutes)
	SessionTTL = 40 * time.Minute
	// DefaultSessionMessages bounds the transcript kept per session
	DefaultSessionMessages = 10

	sessionPrefix = "session:"
)

// Session is the short-term transcript of one conversation session
type Session struct {
	SessionID string                    `json:"session_id"`
	Messages  []pkg.ConversationMessage `json:"messages"`
	CreatedAt int64                     `json:"created_at"`
	UpdatedAt int64                     `json:"updated_at"`
}

// KVSessionManager keeps sessions as JSON documents in a KV backend. Every
// write refreshes the TTL. Concurrent appends to the same session are last
// writer wins.
type KVSessionManager struct {
	kv          KV
	ttl         time.Duration
	maxMessages int
}

// NewKVSessionManager creates a session manager over kv
func NewKVSessionManager(kv KV, ttl time.Duration, maxMessages int) *KVSessionManager {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultSessionMessages
	}
	return &KVSessionManager{kv: kv, ttl: ttl, maxMessages: maxMessages}
}

func (m *KVSessionManager) key(sessionID string) string {
	return sessionPrefix + sessionID
}

func (m *KVSessionManager) load(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := m.kv.Get(ctx, m.key(sessionID))
	if errors.Is(err, ErrNotFound) {
		return &Session{SessionID: sessionID, Messages: []pkg.ConversationMessage{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var session Session
	if err := sonic.UnmarshalString(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return &session, nil
}

// History returns the retained messages of a session, oldest first. An
// unknown or expired session has an empty history.
func (m *KVSessionManager) History(ctx context.Context, sessionID string) ([]pkg.ConversationMessage, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

// Append adds messages to a session and trims it to the newest maxMessages
func (m *KVSessionManager) Append(ctx context.Context, sessionID string, messages ...pkg.ConversationMessage) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	if session.CreatedAt == 0 {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	session.Messages = append(session.Messages, messages...)
	if len(session.Messages) > m.maxMessages {
		session.Messages = session.Messages[len(session.Messages)-m.maxMessages:]
	}

	data, err := sonic.MarshalString(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	return m.kv.SetEX(ctx, m.key(sessionID), data, m.ttl)
}

// DeleteSession removes a session
func (m *KVSessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.kv.Del(ctx, m.key(sessionID))
}

// FormatTranscript renders messages as "role: content" lines
func FormatTranscript(messages []pkg.ConversationMessage) string {
	var out string
	for i, msg := range messages {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%s: %s", msg.Role, msg.Content)
	}
	return out
}
