package pushservice

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/webpush/pkg/pushapi"
)

// ErrUnknownSubscription はサブスクリプションが存在しないか解除済みであることを表す。
var ErrUnknownSubscription = errors.New("サブスクリプションが存在しません")

// channel は1つのサブスクリプションに届いたメッセージのキュー。
type channel struct {
	applicationServerKey []byte
	messages             []pushapi.PushMessage
}

// queue はサブスクリプションごとのメッセージキュー。
type queue struct {
	mu          sync.Mutex
	channels    map[string]*channel
	maxMessages int
	now         func() time.Time
}

func newQueue(maxMessages int, now func() time.Time) *queue {
	return &queue{
		channels:    make(map[string]*channel),
		maxMessages: maxMessages,
		now:         now,
	}
}

// create は新しいサブスクリプションIDを払い出す。
func (q *queue) create(applicationServerKey []byte) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.channels[id] = &channel{applicationServerKey: applicationServerKey}
	return id
}

// key はidのアプリケーションサーバー鍵を返す。
func (q *queue) key(id string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.channels[id]
	if !ok {
		return nil, ErrUnknownSubscription
	}
	return ch.applicationServerKey, nil
}

// push はメッセージを追加する。同じtopicの未配信メッセージは置き換える。
// 上限を超えた場合は古いものから捨てる。
func (q *queue) push(id string, msg pushapi.PushMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.channels[id]
	if !ok {
		return ErrUnknownSubscription
	}

	if msg.Topic != "" {
		kept := ch.messages[:0]
		for _, m := range ch.messages {
			if m.Topic != msg.Topic {
				kept = append(kept, m)
			}
		}
		ch.messages = kept
	}

	ch.messages = append(ch.messages, msg)
	if q.maxMessages > 0 && len(ch.messages) > q.maxMessages {
		ch.messages = append([]pushapi.PushMessage(nil), ch.messages[len(ch.messages)-q.maxMessages:]...)
	}
	return nil
}

// drain はTTLが切れていないメッセージを全て取り出す。
func (q *queue) drain(id string) ([]pushapi.PushMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.channels[id]
	if !ok {
		return nil, ErrUnknownSubscription
	}

	now := q.now()
	msgs := make([]pushapi.PushMessage, 0, len(ch.messages))
	for _, m := range ch.messages {
		// TTL 0 は期限切れにしない
		if m.TTL > 0 && now.After(m.ReceivedAt.Add(time.Duration(m.TTL)*time.Second)) {
			continue
		}
		msgs = append(msgs, m)
	}
	ch.messages = nil
	return msgs, nil
}

// remove はサブスクリプションを解除する。
func (q *queue) remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.channels[id]; !ok {
		return ErrUnknownSubscription
	}
	delete(q.channels, id)
	return nil
}
