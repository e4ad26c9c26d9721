// Package pushservice は開発用のプッシュサービスを提供する。
//
// RFC 8030 のうちサブスクリプション作成・メッセージ受信・取得・解除だけを実装し、
// 受信時にVAPIDのJWTとaes128gcmのヘッダーを検証する。
// 受信したメッセージは暗号化されたままメモリ上に保持され、
// ヘッドレスブラウザが取り出して復号する。
package pushservice
