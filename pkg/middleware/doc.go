// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// zapによるリクエストログ、パニックリカバリ、CORS設定など、
// Web Pushサーバーと開発用プッシュサービスで共通して使用するミドルウェアを含む。
package middleware
