package headless

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// aes128gcmヘッダーの各部の長さ。
const (
	saltSize      = 16
	recordSizeLen = 4
	keyIDLenSize  = 1
	publicKeySize = 65
	headerSize    = saltSize + recordSizeLen + keyIDLenSize + publicKeySize
	tagSize       = 16
)

var (
	// ErrMalformedPayload はaes128gcmの形式として解釈できないことを表す。
	ErrMalformedPayload = errors.New("aes128gcmのペイロードが不正です")
	// ErrMissingDelimiter は復号結果に最終レコードの区切りが無いことを表す。
	ErrMissingDelimiter = errors.New("最終レコードの区切りがありません")
)

// decrypt はaes128gcmで暗号化された単一レコードのペイロードを復号する。
// uaPrivはサブスクリプションのECDH秘密鍵、authSecretは認証シークレット。
func decrypt(body []byte, uaPriv *ecdh.PrivateKey, authSecret []byte) ([]byte, error) {
	if len(body) < headerSize+tagSize {
		return nil, ErrMalformedPayload
	}

	salt := body[:saltSize]
	rs := binary.BigEndian.Uint32(body[saltSize : saltSize+recordSizeLen])
	idLen := int(body[saltSize+recordSizeLen])
	if idLen != publicKeySize {
		return nil, fmt.Errorf("%w: keyidの長さ=%d", ErrMalformedPayload, idLen)
	}
	asPublic := body[saltSize+recordSizeLen+keyIDLenSize : headerSize]
	ciphertext := body[headerSize:]
	if uint32(len(ciphertext)) > rs {
		return nil, fmt.Errorf("%w: 複数レコードには対応していません", ErrMalformedPayload)
	}

	asKey, err := ecdh.P256().NewPublicKey(asPublic)
	if err != nil {
		return nil, fmt.Errorf("送信者の公開鍵が不正です: %w", err)
	}
	sharedSecret, err := uaPriv.ECDH(asKey)
	if err != nil {
		return nil, fmt.Errorf("ECDHに失敗: %w", err)
	}

	keyInfo := make([]byte, 0, 14+2*publicKeySize)
	keyInfo = append(keyInfo, "WebPush: info\x00"...)
	keyInfo = append(keyInfo, uaPriv.PublicKey().Bytes()...)
	keyInfo = append(keyInfo, asPublic...)
	ikm, err := expand(hkdf.Extract(sha256.New, sharedSecret, authSecret), keyInfo, 32)
	if err != nil {
		return nil, err
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	cek, err := expand(prk, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		return nil, err
	}
	nonce, err := expand(prk, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("AES鍵の生成に失敗: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCMの初期化に失敗: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("復号に失敗: %w", err)
	}

	return unpad(plaintext)
}

// unpad は末尾のゼロ埋めと区切り(0x02)を取り除く。
func unpad(plaintext []byte) ([]byte, error) {
	end := len(bytes.TrimRight(plaintext, "\x00"))
	if end == 0 || plaintext[end-1] != 0x02 {
		return nil, ErrMissingDelimiter
	}
	return plaintext[:end-1], nil
}

func expand(prk, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return nil, fmt.Errorf("HKDFの展開に失敗: %w", err)
	}
	return out, nil
}
