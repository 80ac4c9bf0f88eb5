// Command authpanel はメール/パスワード認証画面を提供するWebアプリケーション。
//
// サブコマンド:
//
//	serve        HTTPサーバーを起動する（デフォルト）
//	worker       PostgreSQLの期限切れセッションを定期削除する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  /health にリクエストしてコンテナの死活を判定する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/authpanel/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "authpanel: %v\n", err)
		os.Exit(1)
	}
}
