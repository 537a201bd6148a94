package recovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/claimq/internal/queue"
	pebblestore "github.com/rzbill/claimq/internal/storage/pebble"
	"github.com/rzbill/claimq/pkg/id"
	"github.com/rzbill/claimq/pkg/log"
)

// Keys: cq/recovery/e/{id16} -> framed JSON event. The 16-byte sortable id
// orders events chronologically under bytewise comparison.
const eventPrefix = "cq/recovery/e/"

// Event is one timestamped record of a detected inconsistency and the
// action taken.
type Event struct {
	ID     string `json:"id"`
	AtMs   int64  `json:"atMs"`
	Action string `json:"action"`
	Detail string `json:"detail"`
	Policy string `json:"policy"`
}

// Log is the append-only recovery log.
type Log struct {
	db     *pebblestore.DB
	gen    *id.Generator
	logger log.Logger
}

// NewLog creates a recovery log over an open store.
func NewLog(db *pebblestore.DB, logger log.Logger) *Log {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	return &Log{db: db, gen: id.NewGenerator(), logger: logger.WithComponent("recovery")}
}

// Append records a repair. nowMs <= 0 means use the clock.
func (l *Log) Append(ctx context.Context, action, detail string, policy Policy, nowMs int64) (Event, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	eid := l.gen.Next()
	ev := Event{
		ID:     eid.String(),
		AtMs:   nowMs,
		Action: action,
		Detail: detail,
		Policy: policy.String(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}

	key := make([]byte, 0, len(eventPrefix)+16)
	key = append(key, eventPrefix...)
	key = append(key, eid.Bytes()...)

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, queue.EncodeRecord(payload), nil); err != nil {
		return Event{}, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(_ context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	lo := []byte(eventPrefix)
	// Prefix successor, covering any first byte of the id component.
	hi := append([]byte(nil), eventPrefix...)
	hi[len(hi)-1]++
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Event
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		payload, err := queue.DecodeRecord(iter.Value())
		if err != nil {
			l.logger.Warn("skipping unreadable recovery event", log.F("key", string(iter.Key())), log.Err(err))
			continue
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			l.logger.Warn("skipping unreadable recovery event", log.F("key", string(iter.Key())), log.Err(err))
			continue
		}
		out = append(out, ev)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
