package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const (
	sessionColumns = "id, tenant_id, app_name, created_at, updated_at, " +
		"(SELECT COUNT(*) FROM agent_events e WHERE e.tenant_id = agent_sessions.tenant_id AND e.session_id = agent_sessions.id)"
	eventColumns = "id, session_id, seq, author, kind, content, tool_name, tool_call_id, tool_calls, final, created_at"
)

func scanSession(row rowScanner) (model.Session, error) {
	var sess model.Session
	if err := row.Scan(&sess.ID, &sess.TenantID, &sess.AppName, &sess.CreatedAt, &sess.UpdatedAt, &sess.EventCount); err != nil {
		return model.Session{}, err
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	return sess, nil
}

// EnsureSession returns the scope's session, creating it on first use.
func (s *Store) EnsureSession(ctx context.Context, scope model.Scope, appName string) (*model.Session, error) {
	if err := scope.ValidateSession(); err != nil {
		return nil, err
	}
	if err := validateString(appName, "appName"); err != nil {
		return nil, err
	}

	var sess model.Session
	err := s.write(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			existing, err := s.getSession(ctx, tx, scope)
			switch {
			case err == nil:
				sess = existing
				return nil
			case !errors.Is(err, common.ErrNotFound):
				return err
			}

			now := time.Now().UTC().Truncate(time.Microsecond)
			st := newStatement(insertStatement, "agent_sessions").
				value("id", scope.SessionID).
				value("app_name", appName).
				value("created_at", now).
				value("updated_at", now).
				scopeTo(scope)
			if _, err := s.exec(ctx, tx, st); err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
			sess = model.Session{ID: scope.SessionID, TenantID: scope.TenantID, AppName: appName, CreatedAt: now, UpdatedAt: now}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession returns the scope's session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, scope model.Scope) (*model.Session, error) {
	if err := scope.ValidateSession(); err != nil {
		return nil, err
	}
	var sess model.Session
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.getSession(ctx, s.db, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) getSession(ctx context.Context, q queryable, scope model.Scope) (model.Session, error) {
	st := newStatement(selectStatement, "agent_sessions").
		selecting(sessionColumns).
		scopeTo(scope).
		whereRow("id", scope.SessionID)
	row, err := s.queryRow(ctx, q, st)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := scanSession(row)
	if err != nil {
		return model.Session{}, classify(fmt.Errorf("session %q: %w", scope.SessionID, err))
	}
	return sess, nil
}

// ListSessions returns the tenant's sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, tenantID int64) ([]model.Session, error) {
	scope := model.TenantScope(tenantID)
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var out []model.Session
	err := s.read(ctx, func(ctx context.Context) error {
		out = nil
		st := newStatement(selectStatement, "agent_sessions").
			selecting(sessionColumns).
			scopeTo(scope).
			order("updated_at DESC, id ASC")
		rows, err := s.query(ctx, s.db, st)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return fmt.Errorf("failed to scan session: %w", err)
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	return out, err
}

// AppendEvent stores event as the next entry of the scope's session and
// fills in its ID, Seq, SessionID and CreatedAt.
func (s *Store) AppendEvent(ctx context.Context, scope model.Scope, event *model.Event) error {
	if err := scope.ValidateSession(); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: event is required", common.ErrValidation)
	}

	var toolCalls string
	if len(event.ToolCalls) > 0 {
		data, err := json.Marshal(event.ToolCalls)
		if err != nil {
			return fmt.Errorf("%w: failed to encode tool calls: %w", common.ErrValidation, err)
		}
		toolCalls = string(data)
	}

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.SessionID = scope.SessionID
	stored.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	err := s.write(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.getSession(ctx, tx, scope); err != nil {
				return err
			}

			seqStmt := newStatement(selectStatement, "agent_events").
				selecting("COALESCE(MAX(seq), 0)").
				scopeTo(scope).
				whereClause("session_id = ?", scope.SessionID)
			row, err := s.queryRow(ctx, tx, seqStmt)
			if err != nil {
				return err
			}
			var last int
			if err := row.Scan(&last); err != nil {
				return fmt.Errorf("failed to read last sequence: %w", err)
			}
			stored.Seq = last + 1

			ins := newStatement(insertStatement, "agent_events").
				value("id", stored.ID).
				value("session_id", stored.SessionID).
				value("seq", stored.Seq).
				value("author", string(stored.Author)).
				value("kind", string(stored.Kind)).
				value("content", stored.Content).
				value("tool_name", stored.ToolName).
				value("tool_call_id", stored.ToolCallID).
				value("tool_calls", toolCalls).
				value("final", stored.Final).
				value("created_at", stored.CreatedAt).
				scopeTo(scope)
			if _, err := s.exec(ctx, tx, ins); err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}

			touch := newStatement(updateStatement, "agent_sessions").
				set("updated_at", stored.CreatedAt).
				scopeTo(scope).
				whereRow("id", scope.SessionID)
			if _, err := s.exec(ctx, tx, touch); err != nil {
				return fmt.Errorf("failed to touch session: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	*event = stored
	return nil
}

// ListEvents returns the session transcript in order.
func (s *Store) ListEvents(ctx context.Context, scope model.Scope) ([]model.Event, error) {
	if err := scope.ValidateSession(); err != nil {
		return nil, err
	}

	var out []model.Event
	err := s.read(ctx, func(ctx context.Context) error {
		out = nil
		st := newStatement(selectStatement, "agent_events").
			selecting(eventColumns).
			scopeTo(scope).
			whereClause("session_id = ?", scope.SessionID).
			order("seq ASC")
		rows, err := s.query(ctx, s.db, st)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var ev model.Event
			var author, kind, toolCalls string
			if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &author, &kind, &ev.Content,
				&ev.ToolName, &ev.ToolCallID, &toolCalls, &ev.Final, &ev.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan event: %w", err)
			}
			ev.Author = model.Author(author)
			ev.Kind = model.EventKind(kind)
			ev.CreatedAt = ev.CreatedAt.UTC()
			if toolCalls != "" {
				if err := json.Unmarshal([]byte(toolCalls), &ev.ToolCalls); err != nil {
					return fmt.Errorf("%w: corrupt tool calls on event %s: %w", common.ErrStorage, ev.ID, err)
				}
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}
