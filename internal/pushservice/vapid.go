package pushservice

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxVAPIDLifetime はVAPIDのJWTに許す有効期限の上限。
const maxVAPIDLifetime = 24 * time.Hour

var (
	// ErrMissingAuthorization はAuthorizationヘッダーが無いことを表す。
	ErrMissingAuthorization = errors.New("Authorizationヘッダーがありません")
	// ErrMalformedAuthorization はvapidスキームの形式が不正であることを表す。
	ErrMalformedAuthorization = errors.New("Authorizationヘッダーの形式が不正です")
	// ErrKeyMismatch はVAPID公開鍵がサブスクリプション作成時の鍵と一致しないことを表す。
	ErrKeyMismatch = errors.New("VAPID公開鍵がサブスクリプションの鍵と一致しません")
	// ErrInvalidSubject はsubクレームがmailto:またはhttps:でないことを表す。
	ErrInvalidSubject = errors.New("subクレームが不正です")
	// ErrExpiryTooFar はexpが24時間より先であることを表す。
	ErrExpiryTooFar = errors.New("expが24時間より先です")
)

// vapidCredentials はAuthorizationヘッダーから取り出したトークンと公開鍵。
type vapidCredentials struct {
	token string
	key   string
}

// parseVAPIDAuthorization は "vapid t=<jwt>, k=<key>" を分解する。
func parseVAPIDAuthorization(header string) (vapidCredentials, error) {
	if header == "" {
		return vapidCredentials{}, ErrMissingAuthorization
	}
	scheme, params, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "vapid") {
		return vapidCredentials{}, ErrMalformedAuthorization
	}

	var creds vapidCredentials
	for _, param := range strings.Split(params, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			return vapidCredentials{}, ErrMalformedAuthorization
		}
		switch strings.ToLower(name) {
		case "t":
			creds.token = value
		case "k":
			creds.key = value
		}
	}
	if creds.token == "" || creds.key == "" {
		return vapidCredentials{}, ErrMalformedAuthorization
	}
	return creds, nil
}

// decodeKey はパディングの有無に関わらずbase64urlの鍵をデコードする。
func decodeKey(key string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
}

// decodeApplicationServerKey はP-256の非圧縮公開鍵の形をした鍵をデコードする。
func decodeApplicationServerKey(key string) ([]byte, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("鍵のデコードに失敗: %w", err)
	}
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("鍵が非圧縮のP-256公開鍵ではありません: length=%d", len(raw))
	}
	return raw, nil
}

// verifier はVAPIDのJWTを検証する。
type verifier struct {
	now func() time.Time
}

// verify はAuthorizationヘッダーを検証する。
// applicationServerKeyはサブスクリプション作成時の鍵、audienceはエンドポイントのオリジン。
func (v verifier) verify(header string, applicationServerKey []byte, audience string) error {
	creds, err := parseVAPIDAuthorization(header)
	if err != nil {
		return err
	}

	raw, err := decodeApplicationServerKey(creds.key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAuthorization, err)
	}
	if string(raw) != string(applicationServerKey) {
		return ErrKeyMismatch
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw)
	if err != nil {
		return fmt.Errorf("VAPID公開鍵の解析に失敗: %w", err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(creds.token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return fmt.Errorf("VAPIDトークンの検証に失敗: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("expクレームの取得に失敗: %w", err)
	}
	if exp.After(v.now().Add(maxVAPIDLifetime)) {
		return ErrExpiryTooFar
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return fmt.Errorf("subクレームの取得に失敗: %w", err)
	}
	if !strings.HasPrefix(sub, "mailto:") && !strings.HasPrefix(sub, "https:") {
		return ErrInvalidSubject
	}
	return nil
}
