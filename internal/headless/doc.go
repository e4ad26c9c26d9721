// Package headless はブラウザを使わずにWeb Pushの受信側を再現するヘッドレスブラウザを提供する。
//
// 通知許可・サービスワーカーの登録・プッシュサブスクリプションをTOMLのプロファイルに保存し、
// 開発用プッシュサービスからメッセージを取り出してaes128gcmを復号する。
// pushclient のインターフェースを実装するため、CLIからクライアントのフローをそのまま実行できる。
package headless
