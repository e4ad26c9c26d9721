package webpush

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/webpush/pkg/migration"
	"github.com/nao1215/webpush/pkg/pushapi"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteのテーブルでサブスクリプションを保持するStore。
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore はdsnのSQLiteデータベースを開き、マイグレーションを適用する。
func OpenSQLiteStore(dsn string, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため、接続を1本に固定する
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore は既存の接続からSQLiteStoreを生成する。
func NewSQLiteStore(db *sql.DB, log *zap.Logger) (*SQLiteStore, error) {
	pending, err := migration.Pending(db, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("マイグレーション状態の確認に失敗: %w", err)
	}
	if len(pending) > 0 {
		log.Info("未適用のマイグレーションを適用します", zap.Ints("versions", pending))
	}
	if err := migration.Run(db, migrationsFS, "migrations", log); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Set はkeyのサブスクリプションを上書きする。
func (s *SQLiteStore) Set(ctx context.Context, key string, sub pushapi.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (subscriber_key, endpoint, expiration_time, p256dh, auth, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(subscriber_key) DO UPDATE SET
			endpoint = excluded.endpoint,
			expiration_time = excluded.expiration_time,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			updated_at = excluded.updated_at
	`, key, sub.Endpoint, nullableInt64(sub.ExpirationTime), sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return fmt.Errorf("サブスクリプションの保存に失敗: %w", err)
	}
	return nil
}

// Get はkeyのサブスクリプションを返す。
func (s *SQLiteStore) Get(ctx context.Context, key string) (pushapi.Subscription, error) {
	var (
		sub        pushapi.Subscription
		expiration sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT endpoint, expiration_time, p256dh, auth
			FROM subscriptions
		WHERE subscriber_key = ?
	`, key).Scan(&sub.Endpoint, &expiration, &sub.Keys.P256dh, &sub.Keys.Auth)
	if errors.Is(err, sql.ErrNoRows) {
		return pushapi.Subscription{}, ErrNotFound
	}
	if err != nil {
		return pushapi.Subscription{}, fmt.Errorf("サブスクリプションの取得に失敗: %w", err)
	}
	if expiration.Valid {
		exp := expiration.Int64
		sub.ExpirationTime = &exp
	}
	return sub, nil
}

// Remove はendpointが一致する場合にkeyのサブスクリプションを削除する。
func (s *SQLiteStore) Remove(ctx context.Context, key, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE subscriber_key = ? AND endpoint = ?
	`, key, endpoint)
	if err != nil {
		return false, fmt.Errorf("サブスクリプションの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
