package repo

import (
	"context"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// SessionAccessPG checks project ownership or membership for a session.
type SessionAccessPG struct {
	sql infra.SQLExecutor
}

func NewSessionAccess(sql infra.SQLExecutor) *SessionAccessPG {
	return &SessionAccessPG{sql: sql}
}

// CanGenerate reports whether userID owns or is a member of the session's project.
func (s *SessionAccessPG) CanGenerate(ctx context.Context, userID, sessionID string) (bool, error) {
	var ok bool
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectSessionAccess, userID, sessionID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

var _ domain.SessionAccess = (*SessionAccessPG)(nil)
