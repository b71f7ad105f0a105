package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/valkeycompat"

	"github.com/sts-resolver/daemon/internal/log"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// metadataKey is the reserved key holding the proactive-fetch timestamp
// hash, skipped during Scan.
const metadataKey = "_metadata"

// Redis is the external key-value backend, built on a sorted-set-per-domain
// scheme for write-newest-wins without a read-modify-write race: each domain
// maps to a sorted set with a single member, added and trimmed to the last
// element in one pipelined transaction so a racing older write can never
// clobber a newer one.
type Redis struct {
	client valkey.Client
	cmd    valkeycompat.Cmdable
	prefix string
}

// NewRedis connects to addr (host:port) selecting db, optionally
// authenticating with password. prefix namespaces every key.
func NewRedis(addr, password string, db int, prefix string) (*Redis, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
		SelectDB:    db,
	})
	if err != nil {
		return nil, fmt.Errorf("cache/redis: connect: %w", err)
	}
	return &Redis{
		client: client,
		cmd:    valkeycompat.NewAdapter(client),
		prefix: prefix,
	}, nil
}

func (r *Redis) Setup(ctx context.Context) error    { return nil }
func (r *Redis) Teardown(ctx context.Context) error { r.client.Close(); return nil }

func (r *Redis) key(domain string) string { return r.prefix + domain }

// payload is the wire format for one sorted-set member: a 16-byte random
// prefix (so a rewritten policy never collides with its predecessor as a
// set member, which scored-set semantics require to be unique) followed by
// JSON(policy_id, policy_body).
type payload struct {
	PolicyID string               `json:"id"`
	Body     *resolver.PolicyBody `json:"body,omitempty"`
}

func encodePayload(entry Entry) (string, error) {
	body, err := json.Marshal(payload{PolicyID: entry.PolicyID, Body: entry.Body})
	if err != nil {
		return "", err
	}
	prefix := make([]byte, 16)
	if _, err := rand.Read(prefix); err != nil {
		return "", err
	}
	return string(prefix) + string(body), nil
}

func decodePayload(member string) (payload, error) {
	var p payload
	if len(member) < 16 {
		return p, errors.New("cache/redis: malformed member")
	}
	err := json.Unmarshal([]byte(member[16:]), &p)
	return p, err
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	members, err := r.cmd.ZRevRangeWithScores(ctx, r.key(key), 0, 0).Result()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if len(members) == 0 {
		return Entry{}, false, nil
	}
	p, err := decodePayload(members[0].Member)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{TS: int64(members[0].Score), PolicyID: p.PolicyID, Body: p.Body}, true, nil
}

// Set implements an atomic add+trim-to-last: ZADD the new member
// scored by entry.TS, then trim the set to keep only the highest-scored
// (newest) member, all within one pipelined transaction so a concurrent
// older write can never leave two members or overwrite a newer one. Two
// writes with equal TS are not ordered: both members share one score, and
// the one whose random-prefixed payload sorts last is kept.
func (r *Redis) Set(ctx context.Context, key string, entry Entry) error {
	member, err := encodePayload(entry)
	if err != nil {
		return err
	}

	redisKey := r.key(key)
	tx := r.cmd.TxPipeline()
	tx.ZAdd(ctx, redisKey, valkeycompat.Z{Score: float64(entry.TS), Member: member})
	// Keep only the top-scored member: remove everything below rank -2
	// from the top (i.e. all but the single highest-scored entry).
	tx.ZRemRangeByRank(ctx, redisKey, 0, -2)
	_, err = tx.Exec(ctx)
	return err
}

func (r *Redis) SafeSet(ctx context.Context, key string, entry Entry) {
	if err := r.Set(ctx, key, entry); err != nil {
		log.Warnf("redis cache: set failed for %q: %v", key, err)
	}
}

// Scan iterates domains using the backend's cursor primitive (SCAN),
// skipping the reserved metadata key.
func (r *Redis) Scan(ctx context.Context, token []byte, hint int) (Page, error) {
	var cursor uint64
	if token != nil {
		c, err := strconv.ParseUint(string(token), 10, 64)
		if err != nil {
			return Page{}, err
		}
		cursor = c
	}
	if hint <= 0 {
		hint = 100
	}

	keys, nextCursor, err := r.cmd.Scan(ctx, cursor, r.prefix+"*", int64(hint)).Result()
	if err != nil {
		return Page{}, err
	}

	items := make([]ScanItem, 0, len(keys))
	for _, k := range keys {
		if k == r.prefix+metadataKey {
			continue
		}
		domain := k[len(r.prefix):]
		entry, ok, err := r.Get(ctx, domain)
		if err != nil || !ok {
			continue
		}
		items = append(items, ScanItem{Key: domain, Entry: entry})
	}

	var next []byte
	if nextCursor != 0 {
		next = []byte(strconv.FormatUint(nextCursor, 10))
	}
	return Page{NextToken: next, Items: items}, nil
}

func (r *Redis) GetProactiveFetchTS(ctx context.Context) (time.Time, error) {
	val, err := r.cmd.HGet(ctx, r.prefix+metadataKey, "proactive_fetch_ts").Result()
	if errors.Is(err, valkey.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

func (r *Redis) SetProactiveFetchTS(ctx context.Context, ts time.Time) error {
	return r.cmd.HSet(ctx, r.prefix+metadataKey, "proactive_fetch_ts", strconv.FormatInt(ts.Unix(), 10)).Err()
}
