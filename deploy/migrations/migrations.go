// Package migrations 内嵌 MySQL 存储使用的建表脚本。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
