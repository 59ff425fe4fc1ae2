// Package mysql opens the shared MySQL connection pool and applies the
// embedded schema migrations used by the conversation, checkpoint and job
// stores.
package mysql
