package cmd

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pseudomuto/schemalock/pkg/cmd/testutil"
	"github.com/pseudomuto/schemalock/pkg/config"
	"github.com/stretchr/testify/require"
)

func startRedis(t *testing.T) string {
	t.Helper()
	return miniredis.RunT(t).Addr()
}

func TestRedisBackend(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	mr := miniredis.RunT(t)

	fixture := testutil.TestProject(t).WithConfig(func(cfg *config.Config) {
		cfg.Lock.Backend = "redis"
		cfg.Lock.Redis.Addr = mr.Addr()
		cfg.Lock.PollInterval = 10 * time.Millisecond
	})

	env := NewEnv(nil)
	env.Now = func() time.Time { return fixedNow }

	result := runApp(t, env, "--dir", fixture.Dir, "run", "-r", "job", "--", "echo", "from redis")
	require.NoError(t, result.Err)
	require.Equal(t, "from redis\n", result.Stdout)

	value, err := mr.Get("schemalock:job")
	require.NoError(t, err)
	require.Equal(t, "0:1723300200000000000", value)

	result = runApp(t, env, "--dir", fixture.Dir, "status")
	require.NoError(t, result.Err)
	require.Contains(t, result.Stdout, "job       unlocked")

	// Held elsewhere and fresh: the run gives up once the timeout passes.
	require.NoError(t, mr.Set("schemalock:job", "1:1723300200000000000"))

	result = runApp(t, env, "--dir", fixture.Dir, "--timeout", "50ms", "run", "-r", "job", "--", "echo", "never")
	require.Error(t, result.Err)
	require.Empty(t, result.Stdout)

	result = runApp(t, env, "--dir", fixture.Dir, "unlock", "job")
	require.NoError(t, result.Err)
	require.Equal(t, "Released job\n", result.Stdout)
}
