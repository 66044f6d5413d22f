package session

import (
	"context"
	"sync"
	"time"

	"StarkFinder/internal/extraction"
)

// MemoryStore 以内存方式保存会话，进程退出即丢弃。
// 这是默认实现：会话本就是尽力而为的进程内状态。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore 创建 MemoryStore。ttl 非正时使用 DefaultTTL。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get 实现 Store 接口。过期会话在此处惰性清除。
func (m *MemoryStore) Get(_ context.Context, key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	if m.isStale(sess) {
		delete(m.sessions, key)
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

// Upsert 实现 Store 接口。
func (m *MemoryStore) Upsert(_ context.Context, key string, update Update) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.liveSession(key)
	if sess == nil {
		sess = &Session{Key: key, CreatedAt: m.now().Unix()}
		m.sessions[key] = sess
	}
	if update.WalletAddress != nil {
		sess.WalletAddress = *update.WalletAddress
	}
	if update.SigningCredential != nil {
		sess.SigningCredential = *update.SigningCredential
	}
	if update.IsGroup != nil {
		sess.IsGroup = *update.IsGroup
	}
	sess.LastActivity = m.now().Unix()
	return cloneSession(sess), nil
}

// Touch 实现 Store 接口。
func (m *MemoryStore) Touch(_ context.Context, key string, isGroup bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.liveSession(key)
	if sess == nil {
		sess = &Session{Key: key, IsGroup: isGroup, CreatedAt: m.now().Unix()}
		m.sessions[key] = sess
	}
	sess.LastActivity = m.now().Unix()
	return cloneSession(sess), nil
}

// SetPending 实现 Store 接口。新意图直接覆盖旧意图。
func (m *MemoryStore) SetPending(_ context.Context, key string, intent *extraction.TransactionIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.liveSession(key)
	if sess == nil {
		return ErrNotFound
	}
	sess.Pending = cloneIntent(intent)
	sess.LastActivity = m.now().Unix()
	return nil
}

// TakePending 实现 Store 接口。取出与清除在同一把锁内完成，
// 因此同一意图至多被消费一次。
func (m *MemoryStore) TakePending(_ context.Context, key string) (*extraction.TransactionIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.liveSession(key)
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.Pending == nil {
		return nil, ErrNoPending
	}
	intent := sess.Pending
	sess.Pending = nil
	return intent, nil
}

// ClearPending 实现 Store 接口。
func (m *MemoryStore) ClearPending(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess := m.liveSession(key); sess != nil {
		sess.Pending = nil
	}
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// StartSweeper 周期性清理过期会话，直到上下文取消。
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sess := range m.sessions {
		if m.isStale(sess) {
			delete(m.sessions, key)
		}
	}
}

// liveSession 返回未过期的会话，过期则顺手清除。调用方必须持有写锁。
func (m *MemoryStore) liveSession(key string) *Session {
	sess, ok := m.sessions[key]
	if !ok {
		return nil
	}
	if m.isStale(sess) {
		delete(m.sessions, key)
		return nil
	}
	return sess
}

func (m *MemoryStore) isStale(sess *Session) bool {
	if sess.LastActivity == 0 {
		return false
	}
	return m.now().After(sess.StaleAt(m.ttl))
}

func cloneSession(sess *Session) *Session {
	clone := *sess
	clone.Pending = cloneIntent(sess.Pending)
	return &clone
}

func cloneIntent(intent *extraction.TransactionIntent) *extraction.TransactionIntent {
	if intent == nil {
		return nil
	}
	clone := *intent
	if len(intent.Steps) > 0 {
		clone.Steps = make([]extraction.Step, len(intent.Steps))
		copy(clone.Steps, intent.Steps)
		for i, step := range intent.Steps {
			if len(step.Calldata) > 0 {
				clone.Steps[i].Calldata = append([]string(nil), step.Calldata...)
			}
		}
	}
	return &clone
}

var _ Store = (*MemoryStore)(nil)
