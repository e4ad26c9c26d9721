package webpush

import (
	"context"
	"errors"
	"sync"

	"github.com/nao1215/webpush/pkg/pushapi"
)

// ErrNotFound はサブスクリプションが保存されていないことを表す。
var ErrNotFound = errors.New("サブスクリプションが見つかりません")

// Store はサブスクライバーごとに最新のサブスクリプションを1件保持する。
// キーが空文字列のスロットはサブスクライバーIDを送らないクライアントが共有する。
type Store interface {
	// Set はkeyのサブスクリプションを上書きする。
	Set(ctx context.Context, key string, sub pushapi.Subscription) error
	// Get はkeyのサブスクリプションを返す。無い場合はErrNotFound。
	Get(ctx context.Context, key string) (pushapi.Subscription, error)
	// Remove は保存中のサブスクリプションのendpointが一致する場合に削除する。
	// 削除した場合trueを返す。
	Remove(ctx context.Context, key, endpoint string) (bool, error)
	// Close はストアを閉じる。
	Close() error
}

// MemoryStore はプロセス内のマップでサブスクリプションを保持するStore。
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]pushapi.Subscription
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]pushapi.Subscription)}
}

// Set はkeyのサブスクリプションを上書きする。
func (m *MemoryStore) Set(_ context.Context, key string, sub pushapi.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs[key] = cloneSubscription(sub)
	return nil
}

// Get はkeyのサブスクリプションを返す。
func (m *MemoryStore) Get(_ context.Context, key string) (pushapi.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[key]
	if !ok {
		return pushapi.Subscription{}, ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// Remove はendpointが一致する場合にkeyのサブスクリプションを削除する。
func (m *MemoryStore) Remove(_ context.Context, key, endpoint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok || sub.Endpoint != endpoint {
		return false, nil
	}
	delete(m.subs, key)
	return true, nil
}

// Close は何もしない。
func (m *MemoryStore) Close() error {
	return nil
}

// cloneSubscription は呼び出し元とポインタを共有しないようにコピーする。
func cloneSubscription(sub pushapi.Subscription) pushapi.Subscription {
	if sub.ExpirationTime != nil {
		exp := *sub.ExpirationTime
		sub.ExpirationTime = &exp
	}
	return sub
}
