// Package webpush はWeb Pushサーバーの内部実装を提供する。
//
// ブラウザから送られたサブスクリプションをサブスクライバーごとに保持し、
// 送信要求を受けるとVAPID署名・aes128gcm暗号化したメッセージを
// webpush-go経由でプッシュサービスへ配信する。
package webpush
