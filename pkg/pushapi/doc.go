// Package pushapi はWeb Pushクライアントとサーバー間で共有するワイヤ型を提供する。
//
// ブラウザの PushSubscription.toJSON() と同じ形のサブスクリプション、
// 送信メッセージのペイロード、APIのパスとレスポンス文言を定義する。
package pushapi
