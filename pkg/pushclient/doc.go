// Package pushclient はWeb Pushのクライアント側のフローを提供する。
//
// 通知許可の確認、サービスワーカーの登録、プッシュサブスクリプションの作成と解除、
// サーバーへのサブスクリプション送信を行う。ブラウザの機能は
// PermissionSource / WorkerRegistry / PushManager のインターフェースで抽象化する。
package pushclient
