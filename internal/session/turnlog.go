package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"
)

// TurnLogSink mirrors completed turns to ClickHouse on a best-effort,
// async basis. It is never the system of record — the in-memory Store
// remains authoritative — so write failures are logged and dropped
// rather than surfaced to the caller, grounded on the teacher's
// agentd/logs_clickhouse.go connection-handling pattern.
type TurnLogSink struct {
	conn  clickhouse.Conn
	table string
}

// NewTurnLogSink opens a ClickHouse connection for the turn mirror. An
// empty dsn disables the sink entirely (nil, nil returned).
func NewTurnLogSink(ctx context.Context, dsn, table string) (*TurnLogSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if table == "" {
		table = "conversation_turns"
	}
	return &TurnLogSink{conn: conn, table: table}, nil
}

// Mirror asynchronously writes the turn to ClickHouse. Any error is
// logged at warn and otherwise ignored.
func (s *TurnLogSink) Mirror(sessionID string, turn ConversationTurn) {
	if s == nil || s.conn == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		query := fmt.Sprintf(
			"INSERT INTO %s (session_id, turn_id, user_input, assistant_response, intent, confidence, success, processing_ms, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			s.table,
		)
		err := s.conn.Exec(ctx, query,
			sessionID, turn.TurnID, turn.UserInput, turn.AssistantResponse,
			turn.Intent, turn.Confidence, turn.Success,
			turn.ProcessingTime.Milliseconds(), turn.Timestamp,
		)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("turn_log_mirror_failed")
		}
	}()
}
