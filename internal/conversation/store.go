package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/grunted/grunts/internal/errs"
	. "github.com/grunted/grunts/internal/logging"
)

// Key schema. Every key of a thread carries the same TTL; each append
// refreshes all of them.
const (
	metaKeyFmt  = "thread:%s:meta"
	turnsKeyFmt = "thread:%s:turns"
	lockKeyFmt  = "thread:%s:lock"
)

// Meta hash fields. Metadata entries are stored under "md:<key>" so they
// cannot collide with the fixed fields.
const (
	fieldTool         = "tool_name"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "last_updated_at"
	fieldInputTokens  = "total_input_tokens"
	fieldOutputTokens = "total_output_tokens"
	metaPrefix        = "md:"
)

// Options configures the store.
type Options struct {
	// TTL is the inactivity window after which a thread expires. Required.
	TTL time.Duration
	// MaxTurns closes a thread to further appends once reached.
	MaxTurns int
}

// Store is the Redis-backed thread store. Safe for concurrent use;
// appends to the same thread serialize on a per-thread lease.
type Store struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxTurns int
}

// NewStore wraps an existing Redis client. The caller owns the connection.
func NewStore(rdb *redis.Client, opts Options) *Store {
	return &Store{rdb: rdb, ttl: opts.TTL, maxTurns: opts.MaxTurns}
}

// MaxTurns returns the configured turn cap.
func (s *Store) MaxTurns() int { return s.maxTurns }

// CreateThread creates a new thread and returns its id. The meta key is
// written and given its TTL in a single pipelined transaction; the turns
// key materializes on first append.
func (s *Store) CreateThread(ctx context.Context, toolName string, metadata map[string]string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	fields := map[string]interface{}{
		fieldTool:         toolName,
		fieldCreatedAt:    now.Format(time.RFC3339Nano),
		fieldUpdatedAt:    now.Format(time.RFC3339Nano),
		fieldInputTokens:  0,
		fieldOutputTokens: 0,
	}
	for k, v := range metadata {
		fields[metaPrefix+k] = v
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, metaKey(id), fields)
	pipe.Expire(ctx, metaKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	L_debug("conversation: thread created", "id", id, "tool", toolName)
	return id, nil
}

// GetThread materializes a thread. Expired and never-existing ids both
// yield thread_not_found.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	meta, err := s.rdb.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get thread meta: %w", err)
	}
	if len(meta) == 0 {
		return nil, errs.E(errs.KindThreadNotFound, "thread %s not found or expired", id).
			WithHint("start a new conversation without continuation_id")
	}

	raw, err := s.rdb.LRange(ctx, turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get thread turns: %w", err)
	}

	t := &Thread{ID: id, ToolName: meta[fieldTool], Metadata: map[string]string{}}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta[fieldCreatedAt])
	t.LastUpdatedAt, _ = time.Parse(time.RFC3339Nano, meta[fieldUpdatedAt])
	t.TotalInputTokens, _ = strconv.Atoi(meta[fieldInputTokens])
	t.TotalOutputTokens, _ = strconv.Atoi(meta[fieldOutputTokens])
	for k, v := range meta {
		if strings.HasPrefix(k, metaPrefix) {
			t.Metadata[strings.TrimPrefix(k, metaPrefix)] = v
		}
	}

	t.Turns = make([]Turn, 0, len(raw))
	for i, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode turn %d of %s: %w", i, id, err)
		}
		t.Turns = append(t.Turns, turn)
	}

	return t, nil
}

// AppendTurn appends one turn, increments counters, and refreshes TTLs.
func (s *Store) AppendTurn(ctx context.Context, id string, turn Turn) error {
	return s.AppendTurns(ctx, id, turn)
}

// AppendTurns appends turns as one unit: a single per-thread lease, one
// capacity check covering all of them, one pipelined transaction. Either
// every turn lands or none does, so a user/assistant exchange can never be
// half persisted when the thread runs out of room.
func (s *Store) AppendTurns(ctx context.Context, id string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	lease, err := s.acquireLease(ctx, id)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	exists, err := s.rdb.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if exists == 0 {
		return errs.E(errs.KindThreadNotFound, "thread %s not found or expired", id).
			WithHint("start a new conversation without continuation_id")
	}

	n, err := s.rdb.LLen(ctx, turnsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if int(n)+len(turns) > s.maxTurns {
		return errs.E(errs.KindThreadFull, "thread %s reached its %d-turn limit", id, s.maxTurns).
			WithHint("start a new conversation to continue")
	}

	now := time.Now().UTC()
	payloads := make([]interface{}, 0, len(turns))
	var in, out int
	for i := range turns {
		if turns[i].Timestamp.IsZero() {
			turns[i].Timestamp = now
		}
		data, err := json.Marshal(turns[i])
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		payloads = append(payloads, data)
		in += turns[i].InputTokens
		out += turns[i].OutputTokens
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, turnsKey(id), payloads...)
	pipe.HIncrBy(ctx, metaKey(id), fieldInputTokens, int64(in))
	pipe.HIncrBy(ctx, metaKey(id), fieldOutputTokens, int64(out))
	pipe.HSet(ctx, metaKey(id), fieldUpdatedAt, now.Format(time.RFC3339Nano))
	pipe.Expire(ctx, metaKey(id), s.ttl)
	pipe.Expire(ctx, turnsKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	return nil
}

// Stats summarizes a thread.
func (s *Store) Stats(ctx context.Context, id string) (*Stats, error) {
	t, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Turns:        len(t.Turns),
		InputTokens:  t.TotalInputTokens,
		OutputTokens: t.TotalOutputTokens,
	}
	tools := map[string]bool{}
	models := map[string]bool{}
	for _, turn := range t.Turns {
		if turn.ToolName != "" && !tools[turn.ToolName] {
			tools[turn.ToolName] = true
			st.ToolsUsed = append(st.ToolsUsed, turn.ToolName)
		}
		if turn.ModelName != "" && !models[turn.ModelName] {
			models[turn.ModelName] = true
			st.ModelsUsed = append(st.ModelsUsed, turn.ModelName)
		}
	}
	return st, nil
}

// ListThreadIDs scans for live thread ids (dashboard helper).
func (s *Store) ListThreadIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, "thread:*:meta", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, "thread:"), ":meta")
		ids = append(ids, id)
	}
	return ids, iter.Err()
}

func metaKey(id string) string  { return fmt.Sprintf(metaKeyFmt, id) }
func turnsKey(id string) string { return fmt.Sprintf(turnsKeyFmt, id) }
func lockKey(id string) string  { return fmt.Sprintf(lockKeyFmt, id) }
