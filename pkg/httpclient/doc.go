// Package httpclient はJSON APIを呼び出すHTTPクライアントを提供する。
//
// Web PushクライアントからサーバーAPIへのサブスクリプション送信、
// ヘッドレスブラウザからプッシュサービスへの登録など、
// JSONでやり取りする通信パターンを統一する。
package httpclient
