// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// WriteAuditLog は台帳操作の監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation, orgID, subjectID, result string) {
	slog.InfoContext(ctx, "ledger operation completed",
		"operation", operation,
		"organization_id", orgID,
		"subject_id", subjectID,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
