package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pierrec/lz4/v4"
)

const (
	codecNone = "none"
	codecLZ4  = "lz4"
)

// Call is one applied request outcome in the call log.
type Call struct {
	ID        int64
	Screen    string
	Mode      string
	Token     uint64
	Status    string
	ErrorKind string
	ErrorMsg  string
	Elapsed   time.Duration
	Raw       []byte
	CreatedAt time.Time
}

// RecordCall appends c to the call log. Raw bodies are lz4 block compressed
// when that makes them smaller.
func RecordCall(db *sql.DB, c Call) (int64, error) {
	codec, blob := compressRaw(c.Raw)
	res, err := db.Exec(
		`INSERT INTO call_log (screen, mode, token, status, error_kind, error_msg, elapsed_ms, raw_codec, raw_size, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Screen, c.Mode, int64(c.Token), c.Status, c.ErrorKind, c.ErrorMsg,
		c.Elapsed.Milliseconds(), codec, len(c.Raw), blob,
	)
	if err != nil {
		return 0, fmt.Errorf("insert call: %w", err)
	}
	return res.LastInsertId()
}

// ListCalls returns the most recent calls first. screen filters by screen
// when non-empty; limit <= 0 returns everything.
func ListCalls(db *sql.DB, screen string, limit int) ([]Call, error) {
	query := `SELECT id, screen, mode, token, status, error_kind, error_msg, elapsed_ms,
		raw_codec, raw_size, raw, created_at FROM call_log`
	var args []any
	if screen != "" {
		query += " WHERE screen = ?"
		args = append(args, screen)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var result []Call
	for rows.Next() {
		var (
			c         Call
			token     int64
			elapsedMs int64
			codec     string
			size      int
			blob      []byte
		)
		if err := rows.Scan(&c.ID, &c.Screen, &c.Mode, &token, &c.Status, &c.ErrorKind, &c.ErrorMsg,
			&elapsedMs, &codec, &size, &blob, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Token = uint64(token)
		c.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		c.Raw, err = decompressRaw(codec, size, blob)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", c.ID, err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func compressRaw(raw []byte) (string, []byte) {
	if len(raw) == 0 {
		return codecNone, nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, buf, nil)
	// n == 0 means the input is incompressible.
	if err != nil || n == 0 || n >= len(raw) {
		return codecNone, raw
	}
	return codecLZ4, buf[:n]
}

func decompressRaw(codec string, size int, blob []byte) ([]byte, error) {
	switch codec {
	case codecNone, "":
		return blob, nil
	case codecLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(blob, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4: decompress failed: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("unknown raw codec %q", codec)
	}
}
