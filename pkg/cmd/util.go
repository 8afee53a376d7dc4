package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/config"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/pseudomuto/schemalock/pkg/store/redisstore"
	"github.com/pseudomuto/schemalock/pkg/store/sqlstore"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// lockStore is a lock backend the CLI can also create and inspect.
type lockStore interface {
	lock.Store
	Init(ctx context.Context) error
	List(ctx context.Context) ([]lock.Row, error)
	Close() error
}

type redisLockStore struct {
	*redisstore.Store
	client *redis.Client
}

var _ lockStore = (*redisLockStore)(nil)

func (s *redisLockStore) Close() error {
	return s.client.Close()
}

// openDatabase connects to the configured database. The global --url flag wins over database.url.
func openDatabase(ctx context.Context, cmd *cli.Command, cfg *config.Config) (*sqlstore.Store, error) {
	url := cfg.Database.URL
	if v := cmd.String("url"); v != "" {
		url = v
	}

	if url == "" {
		return nil, errors.New("no database URL configured, set database.url or pass --url")
	}

	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.Database.Driver,
		URL:    url,
		Table:  cfg.Lock.Table,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	return store, nil
}

// openLockStore returns the configured lock backend. db is used for the database backend and may be
// nil, in which case a connection is opened.
func openLockStore(ctx context.Context, cmd *cli.Command, cfg *config.Config, db *sqlstore.Store) (lockStore, error) {
	if cfg.Lock.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
		})

		return &redisLockStore{
			Store:  redisstore.New(client, redisstore.Options{Prefix: cfg.Lock.Redis.Prefix}),
			client: client,
		}, nil
	}

	var (
		store *sqlstore.Store
		err   error
	)
	if db != nil {
		store, err = sqlstore.New(db.DB(), sqlstore.Options{
			Driver: db.Dialect().Name(),
			Table:  cfg.Lock.Table,
		})
	} else {
		store, err = openDatabase(ctx, cmd, cfg)
	}
	if err != nil {
		return nil, err
	}

	return store, nil
}

// newTemplate builds the lock template for a command. The global --timeout bounds the wait for the
// lock.
func newTemplate(env *Env, cmd *cli.Command, store lock.Store) *lock.Template {
	var metrics *lock.Metrics
	if env.metrics != nil {
		metrics = env.metrics.lock
	}

	return lock.New(lock.Config{
		Store:          store,
		PollInterval:   env.Config.Lock.PollInterval,
		StaleAfter:     env.Config.Lock.StaleAfter,
		AcquireTimeout: cmd.Root().Duration("timeout"),
		Metrics:        metrics,
		Now:            env.Now,
	})
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	return d.Truncate(time.Second).String()
}
