// Package staging keeps parsed upload rows in Redis between chunk calls.
//
// One upload = one session, addressed by an unguessable token. The staged
// rows, the session metadata, and the consume cursor live under separate keys
// that all share the same TTL, so an abandoned upload disappears on its own —
// there is no background sweeper. An expired session is indistinguishable
// from one that never existed.
//
// Row payloads are JSON-marshalled, zstd-compressed, and carry an xxh3
// checksum that is verified on every read.
package staging

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"
)

const (
	metaPrefix   = "upload:meta:"
	rowsPrefix   = "upload:rows:"
	cursorPrefix = "upload:cursor:"
)

// DefaultTTL is how long a staged upload survives without completing.
const DefaultTTL = time.Hour

// ErrSessionExpired is returned when a token is unknown or its TTL elapsed.
// The two cases are deliberately indistinguishable.
var ErrSessionExpired = errors.New("upload session expired or unknown")

// Session is one in-flight bulk import.
type Session struct {
	Token     string    `json:"token"`
	Dataset   string    `json:"dataset"`
	Total     int       `json:"total"`
	Checksum  string    `json:"checksum"` // xxh3 of the compressed row payload
	CreatedAt time.Time `json:"created_at"`

	// Rows is populated by Get; it is not part of the meta record.
	Rows [][]string `json:"-"`
}

// Store stages upload sessions in Redis with a fixed TTL.
type Store struct {
	rdb     *redis.Client
	ttl     time.Duration
	advance *redis.Script
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a Store. ttl <= 0 falls back to DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("staging: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("staging: zstd decoder: %w", err)
	}
	return &Store{
		rdb:     rdb,
		ttl:     ttl,
		advance: redis.NewScript(luaAdvanceCursor),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create stages the parsed rows under a fresh token and returns it.
// Create takes ownership of fileRef, the temp file the upload was spooled
// to: once the rows are staged the Redis copy is authoritative and the
// backing file is removed, so a session that dies by TTL leaves nothing
// on disk.
func (s *Store) Create(ctx context.Context, datasetName string, rows [][]string, fileRef string) (string, error) {
	token := uuid.NewString()

	payload, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("staging: marshal rows: %w", err)
	}
	compressed := s.encoder.EncodeAll(payload, nil)

	sess := Session{
		Token:     token,
		Dataset:   datasetName,
		Total:     len(rows),
		Checksum:  checksum(compressed),
		CreatedAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("staging: marshal meta: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, metaPrefix+token, meta, s.ttl)
	pipe.Set(ctx, rowsPrefix+token, compressed, s.ttl)
	pipe.Set(ctx, cursorPrefix+token, 0, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("staging: stage session: %w", err)
	}

	if fileRef != "" {
		_ = os.Remove(fileRef)
	}
	return token, nil
}

// Get loads a session and its staged rows.
// An unknown or expired token yields ErrSessionExpired.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	meta, err := s.rdb.Get(ctx, metaPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("staging: get meta: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(meta, &sess); err != nil {
		return nil, fmt.Errorf("staging: unmarshal meta: %w", err)
	}

	compressed, err := s.rdb.Get(ctx, rowsPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		// Meta survived but rows expired; treat the session as gone.
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("staging: get rows: %w", err)
	}
	if got := checksum(compressed); got != sess.Checksum {
		return nil, fmt.Errorf("staging: row payload checksum mismatch (got %s, want %s)", got, sess.Checksum)
	}

	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("staging: decompress rows: %w", err)
	}
	if err := json.Unmarshal(payload, &sess.Rows); err != nil {
		return nil, fmt.Errorf("staging: unmarshal rows: %w", err)
	}
	return &sess, nil
}

// luaAdvanceCursor moves the consume cursor forward, never backward, and
// refreshes its TTL. Returns the resulting cursor value.
//
// KEYS[1] = cursor key
// ARGV[1] = proposed cursor
// ARGV[2] = ttl seconds
const luaAdvanceCursor = `
local cur = tonumber(redis.call('GET', KEYS[1]))
if cur == nil then
    return -1
end
local proposed = tonumber(ARGV[1])
if proposed > cur then
    cur = proposed
end
redis.call('SET', KEYS[1], cur, 'EX', tonumber(ARGV[2]))
return cur
`

// Cursor returns the current consume cursor for a session.
func (s *Store) Cursor(ctx context.Context, token string) (int, error) {
	n, err := s.rdb.Get(ctx, cursorPrefix+token).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrSessionExpired
	}
	if err != nil {
		return 0, fmt.Errorf("staging: get cursor: %w", err)
	}
	return n, nil
}

// AdvanceCursor raises the cursor to processed and returns the stored value.
// A proposal below the stored cursor is a no-op — progress is monotonic.
func (s *Store) AdvanceCursor(ctx context.Context, token string, processed int) (int, error) {
	ttlSeconds := int(s.ttl / time.Second)
	n, err := s.advance.Run(ctx, s.rdb, []string{cursorPrefix + token}, processed, ttlSeconds).Int()
	if err != nil {
		return 0, fmt.Errorf("staging: advance cursor: %w", err)
	}
	if n < 0 {
		return 0, ErrSessionExpired
	}
	return n, nil
}

// Destroy deletes the staged session. The backing temp file is already gone
// (Create removes it), so Redis keys are all there is to clean up.
// Destroying a session that is already gone is not an error.
func (s *Store) Destroy(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, metaPrefix+token, rowsPrefix+token, cursorPrefix+token).Err(); err != nil {
		return fmt.Errorf("staging: destroy: %w", err)
	}
	return nil
}

func checksum(data []byte) string {
	h := xxh3.Hash(data)
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(h >> (56 - 8*i))
	}
	return hex.EncodeToString(buf)
}
