// Package redisstore keeps the schemalock lock table in Redis.
//
// Each resource is one string key, "<prefix><resource>", holding "<0|1>:<unix-nanos>". Redis
// has no row locks, so transactions are optimistic: Get WATCHes the key on a dedicated
// connection and Commit writes through MULTI/EXEC. When another client changed the key in
// between, Commit fails with lock.ErrConflict and the lock template polls again.
package redisstore

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/redis/go-redis/v9"
)

var _ lock.Store = (*Store)(nil)

type (
	// Store is a lock.Store backed by Redis keys.
	//
	// Example usage:
	//
	//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	//	store := redisstore.New(client, redisstore.Options{Prefix: "myapp:locks:"})
	//
	//	tmpl := lock.New(lock.Config{Store: store})
	Store struct {
		client *redis.Client
		prefix string
	}

	// Options configures a Store.
	Options struct {
		// Prefix is prepended to every resource name (default "schemalock:")
		Prefix string
	}

	tx struct {
		conn    *redis.Conn
		store   *Store
		watched []string
		writes  map[string]string
		done    bool
	}
)

// New creates a Store using client. The caller keeps ownership of the client.
func New(client *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = consts.DefaultRedisPrefix
	}

	return &Store{client: client, prefix: opts.Prefix}
}

// Init checks that the server is reachable. There is no schema to create.
func (s *Store) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to connect to redis")
	}

	return nil
}

// Insert adds an unlocked entry for resource unless one exists.
func (s *Store) Insert(ctx context.Context, resource string, at time.Time) error {
	ok, err := s.client.SetNX(ctx, s.key(resource), encode(false, at), 0).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to insert lock key for %q", resource)
	}
	if !ok {
		return errors.Wrapf(lock.ErrDuplicate, "resource %q", resource)
	}

	return nil
}

// Begin reserves a connection for an optimistic transaction.
func (s *Store) Begin(context.Context) (lock.Tx, error) {
	return &tx{
		conn:   s.client.Conn(),
		store:  s,
		writes: make(map[string]string),
	}, nil
}

// List returns every lock entry under the prefix ordered by resource name.
func (s *Store) List(ctx context.Context) ([]lock.Row, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan lock keys")
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read lock keys")
	}

	rows := make([]lock.Row, 0, len(keys))
	for i, key := range keys {
		value, ok := values[i].(string)
		if !ok {
			// removed between SCAN and MGET
			continue
		}

		row, err := decode(strings.TrimPrefix(key, s.prefix), value)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}

	slices.SortFunc(rows, func(a, b lock.Row) int {
		return strings.Compare(a.ResourceName, b.ResourceName)
	})

	return rows, nil
}

func (s *Store) key(resource string) string {
	return s.prefix + resource
}

func (t *tx) Get(ctx context.Context, resource string) (*lock.Row, error) {
	if t.done {
		return nil, errors.New("transaction is closed")
	}

	key := t.store.key(resource)
	if err := t.conn.Process(ctx, redis.NewStatusCmd(ctx, "watch", key)); err != nil {
		return nil, errors.Wrapf(err, "failed to watch %q", key)
	}
	t.watched = append(t.watched, key)

	value, err := t.conn.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(lock.ErrNotFound, "resource %q", resource)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", key)
	}

	return decode(resource, value)
}

func (t *tx) Set(_ context.Context, resource string, locked bool, at time.Time) error {
	if t.done {
		return errors.New("transaction is closed")
	}

	t.writes[t.store.key(resource)] = encode(locked, at)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction is closed")
	}
	defer t.close()

	if len(t.writes) == 0 {
		return t.unwatch(ctx)
	}

	cmds, err := t.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range t.writes {
			pipe.SetArgs(ctx, key, value, redis.SetArgs{Mode: "XX"})
		}
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return errors.Wrapf(lock.ErrConflict, "%v", err)
	}
	if errors.Is(err, redis.Nil) {
		return errors.Wrap(lock.ErrNotFound, "lock key disappeared before commit")
	}
	if err != nil {
		return errors.Wrap(err, "failed to commit lock transaction")
	}

	for _, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			return errors.Wrap(err, "failed to write lock key")
		}
	}

	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	defer t.close()

	return t.unwatch(ctx)
}

func (t *tx) unwatch(ctx context.Context) error {
	if len(t.watched) == 0 {
		return nil
	}

	if err := t.conn.Process(ctx, redis.NewStatusCmd(ctx, "unwatch")); err != nil {
		return errors.Wrap(err, "failed to unwatch lock keys")
	}

	return nil
}

func (t *tx) close() {
	t.done = true
	_ = t.conn.Close()
}

func encode(locked bool, at time.Time) string {
	state := "0"
	if locked {
		state = "1"
	}

	return state + ":" + strconv.FormatInt(at.UnixNano(), 10)
}

func decode(resource, value string) (*lock.Row, error) {
	state, stamp, ok := strings.Cut(value, ":")
	if !ok || (state != "0" && state != "1") {
		return nil, errors.Errorf("malformed lock value for %q: %q", resource, value)
	}

	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed lock timestamp for %q", resource)
	}

	return &lock.Row{
		ResourceName: resource,
		Locked:       state == "1",
		LastUpdated:  time.Unix(0, nanos).UTC(),
	}, nil
}
