package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/omeyang/mongolock/pkg/distributed/xdlock"
	"github.com/omeyang/mongolock/pkg/observability/xlog"
	"github.com/omeyang/mongolock/pkg/storage/xmongo"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func (r cliResult) code() int {
	return exitCode(r.err, &bytes.Buffer{})
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := createApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := app.Run(ctx, append([]string{"xdlockctl"}, args...))
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// redisCLI 返回指向独立 miniredis 的命令执行器。
func redisCLI(t *testing.T) (*miniredis.Miniredis, func(args ...string) cliResult) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, func(args ...string) cliResult {
		t.Helper()
		return runCLI(t, append([]string{"--backend", "redis", "--redis-addr", mr.Addr(), "-t", "2s"}, args...)...)
	}
}

// =============================================================================
// 命令流程
// =============================================================================

func TestAcquireStatusRelease(t *testing.T) {
	_, run := redisCLI(t)

	res := run("acquire", "--owner", "w1", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "acquired job1 owner=w1\n", res.stdout)

	res = run("status", "job1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "job1 owner=w1 expires=")
	assert.NotContains(t, res.stdout, "expired")

	res = run("acquire", "--owner", "w2", "job1")
	var exitErr *exitError
	require.ErrorAs(t, res.err, &exitErr)
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stderr, "锁 job1 已被占用")

	// 非持有者释放不报错，锁保持不变
	res = run("release", "--owner", "w2", "job1")
	require.NoError(t, res.err)
	res = run("status", "job1")
	assert.Contains(t, res.stdout, "owner=w1")

	res = run("release", "--owner", "w1", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "released job1\n", res.stdout)

	res = run("status", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "job1 free\n", res.stdout)
}

func TestAcquire_GeneratedOwner(t *testing.T) {
	_, run := redisCLI(t)

	res := run("acquire", "job1")
	require.NoError(t, res.err)

	_, owner, ok := strings.Cut(strings.TrimSpace(res.stdout), "owner=")
	require.True(t, ok)
	_, err := uuid.Parse(owner)
	assert.NoError(t, err)
}

func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	_, run := redisCLI(t)

	require.NoError(t, run("acquire", "--owner", "w1", "--lock-timeout", "20ms", "job1").err)
	time.Sleep(40 * time.Millisecond)

	res := run("acquire", "--owner", "w2", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "acquired job1 owner=w2\n", res.stdout)
}

func TestAcquire_WaitBudgetExhausted(t *testing.T) {
	_, run := redisCLI(t)

	require.NoError(t, run("acquire", "--owner", "w1", "job1").err)

	start := time.Now()
	res := run("acquire", "--owner", "w2", "--wait", "50ms", "job1")
	assert.Equal(t, 1, res.code())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStatus_Expired(t *testing.T) {
	_, run := redisCLI(t)

	require.NoError(t, run("acquire", "--owner", "w1", "--lock-timeout", "1ms", "job1").err)
	time.Sleep(10 * time.Millisecond)

	res := run("status", "job1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "owner=w1")
	assert.True(t, strings.HasSuffix(res.stdout, " (expired)\n"), res.stdout)
}

func TestRenew(t *testing.T) {
	_, run := redisCLI(t)

	require.NoError(t, run("acquire", "--owner", "w1", "--lock-timeout", "1s", "job1").err)

	res := run("renew", "--owner", "w1", "--lock-timeout", "1m", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "renewed job1 for 1m0s\n", res.stdout)

	res = run("renew", "--owner", "w2", "job1")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stderr, "已被其他持有者占用")

	// 无记录时续期等同于获取
	res = run("renew", "--owner", "w3", "job2")
	require.NoError(t, res.err)
	res = run("status", "job2")
	assert.Contains(t, res.stdout, "owner=w3")
}

func TestHold(t *testing.T) {
	_, run := redisCLI(t)

	res := run("hold", "--owner", "w1", "--lock-timeout", "300ms", "--renew-every", "20ms", "--for", "200ms", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "acquired job1 owner=w1\nreleased job1\n", res.stdout)

	res = run("status", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "job1 free\n", res.stdout)
}

func TestHold_Busy(t *testing.T) {
	_, run := redisCLI(t)

	require.NoError(t, run("acquire", "--owner", "w1", "job1").err)

	res := run("hold", "--owner", "w2", "--for", "50ms", "job1")
	assert.Equal(t, 1, res.code())

	res = run("status", "job1")
	assert.Contains(t, res.stdout, "owner=w1")
}

func TestHold_InvalidRenewEvery(t *testing.T) {
	_, run := redisCLI(t)

	res := run("hold", "--owner", "w1", "--lock-timeout", "1s", "--renew-every", "2s", "job1")
	assert.Equal(t, 2, res.code())

	// 参数错误时不应获取锁
	res = run("status", "job1")
	assert.Equal(t, "job1 free\n", res.stdout)
}

func TestRenewTask_LostLock(t *testing.T) {
	m, err := xdlock.New(xdlock.NewMemoryStore())
	require.NoError(t, err)
	b := &backend{kind: "memory", manager: m, logger: testLogger(t)}

	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "job1", "w2", 0))

	err = renewTask(b, "job1", "w1", time.Second)(ctx)
	require.Error(t, err)
	assert.True(t, xdlock.IsDuplicateKey(err))
	assert.Contains(t, err.Error(), "lost to another owner")
}

func TestRenewTask_Renews(t *testing.T) {
	m, err := xdlock.New(xdlock.NewMemoryStore())
	require.NoError(t, err)
	b := &backend{kind: "memory", manager: m, logger: testLogger(t)}

	ctx := context.Background()
	require.NoError(t, renewTask(b, "job1", "w1", time.Minute)(ctx))

	rec, err := m.Inspect(ctx, "job1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "w1", rec.Owner)
	assert.WithinDuration(t, time.Now().Add(time.Minute), rec.Expires, 5*time.Second)
}

func TestRenewTask_Cancelled(t *testing.T) {
	m, err := xdlock.New(xdlock.NewMemoryStore())
	require.NoError(t, err)
	b := &backend{kind: "memory", manager: m, logger: testLogger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = renewTask(b, "job1", "w1", time.Minute)(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPing(t *testing.T) {
	_, run := redisCLI(t)

	res := run("ping")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "redis ok ("), res.stdout)
}

func TestPing_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	res := runCLI(t, "--backend", "redis", "--redis-addr", addr, "-t", "2s", "ping")
	require.Error(t, res.err)
	assert.Equal(t, 1, res.code())
}

func TestPing_EtcdUnreachable(t *testing.T) {
	res := runCLI(t, "--backend", "etcd", "--etcd-endpoints", "127.0.0.1:1", "-t", "1s", "ping")
	require.Error(t, res.err)
	assert.Equal(t, 1, res.code())
}

func TestOpenMongo_WrapperErrorDisconnects(t *testing.T) {
	want := errors.New("wrap failed")
	var captured *mongo.Client
	orig := newMongoWrapper
	newMongoWrapper = func(client *mongo.Client, _ ...xmongo.Option) (xmongo.Mongo, error) {
		captured = client
		return nil, want
	}
	t.Cleanup(func() { newMongoWrapper = orig })

	s, err := readSettings("")
	require.NoError(t, err)
	s.Mongo.URI = "mongodb://127.0.0.1:1"

	ctx := context.Background()
	b, err := openBackend(ctx, s, testLogger(t))
	assert.Nil(t, b)
	require.ErrorIs(t, err, want)
	require.NotNil(t, captured)

	err = captured.Ping(ctx, nil)
	assert.ErrorIs(t, err, mongo.ErrClientDisconnected)
}

func TestPageError(t *testing.T) {
	for _, sentinel := range []error{
		xmongo.ErrInvalidPage,
		xmongo.ErrInvalidPageSize,
		xmongo.ErrPageSizeTooLarge,
		xmongo.ErrPageOverflow,
	} {
		err := pageError(fmt.Errorf("find page: %w", sentinel))
		var usageErr *usageError
		require.ErrorAs(t, err, &usageErr, sentinel.Error())
		assert.Equal(t, 2, exitCode(err, &bytes.Buffer{}))
	}

	err := pageError(errors.New("server selection timeout"))
	var usageErr *usageError
	assert.False(t, errors.As(err, &usageErr))
	assert.Equal(t, 1, exitCode(err, &bytes.Buffer{}))
}

func TestList_RequiresMongo(t *testing.T) {
	_, run := redisCLI(t)

	res := run("list")
	var usageErr *usageError
	require.ErrorAs(t, res.err, &usageErr)
	assert.Contains(t, usageErr.Error(), "mongo")
	assert.Equal(t, 2, res.code())
}

// =============================================================================
// 参数与配置
// =============================================================================

func TestUsageErrors(t *testing.T) {
	_, run := redisCLI(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing name", []string{"status"}},
		{"too many names", []string{"status", "a", "b"}},
		{"missing required owner", []string{"release", "job1"}},
		{"unknown flag", []string{"acquire", "--nope", "job1"}},
		{"invalid duration", []string{"acquire", "--wait", "soon", "job1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(tt.args...)
			require.Error(t, res.err)
			assert.Equal(t, 2, res.code())
		})
	}
}

func TestUnsupportedBackend(t *testing.T) {
	res := runCLI(t, "--backend", "zookeeper", "status", "job1")
	var usageErr *usageError
	require.ErrorAs(t, res.err, &usageErr)
	assert.Contains(t, usageErr.Error(), "zookeeper")
}

func TestSettingsValidate(t *testing.T) {
	valid := func() *settings {
		s, err := readSettings("")
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name    string
		mutate  func(s *settings)
		wantErr string
	}{
		{"defaults", func(*settings) {}, ""},
		{"etcd with endpoints", func(s *settings) { s.Backend = backendEtcd }, ""},
		{"etcd without endpoints", func(s *settings) {
			s.Backend = backendEtcd
			s.Etcd.Endpoints = nil
		}, "etcd.endpoints"},
		{"zero retry interval", func(s *settings) { s.Lock.RetryInterval = 0 }, "lock.retry_interval"},
		{"negative rotation", func(s *settings) { s.Log.Rotation.MaxBackups = -1 }, "log.rotation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var usageErr *usageError
			require.ErrorAs(t, err, &usageErr)
			assert.Contains(t, usageErr.Error(), tt.wantErr)
		})
	}
}

func TestReadSettings_Defaults(t *testing.T) {
	s, err := readSettings("")
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:2379"}, s.Etcd.Endpoints)
	assert.Equal(t, xdlock.DefaultEtcdKeyPrefix, s.Etcd.KeyPrefix)
	assert.Equal(t, 5*time.Second, s.Etcd.DialTimeout)
	assert.Equal(t, xlog.RotationConfig{
		MaxSizeMB:  xlog.DefaultMaxSizeMB,
		MaxBackups: xlog.DefaultMaxBackups,
		MaxAgeDays: xlog.DefaultMaxAgeDays,
		Compress:   true,
	}, s.Log.Rotation)
}

func TestReadSettings_EtcdAndRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xdlockctl.yaml")
	content := "backend: etcd\n" +
		"etcd:\n" +
		"  endpoints: [\"10.0.0.1:2379\", \"10.0.0.2:2379\"]\n" +
		"  key_prefix: /locks/\n" +
		"log:\n" +
		"  file: /var/log/xdlockctl.log\n" +
		"  rotation:\n" +
		"    max_size_mb: 5\n" +
		"    max_backups: 2\n" +
		"    compress: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := readSettings(path)
	require.NoError(t, err)

	assert.Equal(t, backendEtcd, s.Backend)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, s.Etcd.Endpoints)
	assert.Equal(t, "/locks/", s.Etcd.KeyPrefix)
	assert.Equal(t, xlog.RotationConfig{
		MaxSizeMB:  5,
		MaxBackups: 2,
		MaxAgeDays: xlog.DefaultMaxAgeDays,
		Compress:   false,
	}, s.Log.Rotation)
}

func TestLogFileRotation(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	logFile := filepath.Join(dir, "xdlockctl.log")
	path := filepath.Join(dir, "xdlockctl.yaml")
	content := "backend: redis\n" +
		"redis:\n" +
		"  addr: " + mr.Addr() + "\n" +
		"log:\n" +
		"  level: debug\n" +
		"  file: " + logFile + "\n" +
		"  rotation:\n" +
		"    max_size_mb: 1\n" +
		"    max_backups: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, runCLI(t, "-c", path, "acquire", "--owner", "w1", "job1").err)
	res := runCLI(t, "-c", path, "acquire", "--owner", "w2", "job1")
	assert.Equal(t, 1, res.code())
	assert.NotContains(t, res.stderr, "lock busy")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lock busy")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log:\n  rotation:\n    max_age_days: -1\n"), 0o600))
	res = runCLI(t, "-c", bad, "--backend", "redis", "--redis-addr", mr.Addr(), "status", "job1")
	assert.Equal(t, 2, res.code())
}

func TestConfigFile(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "xdlockctl.yaml")
	content := "backend: redis\n" +
		"redis:\n" +
		"  addr: " + mr.Addr() + "\n" +
		"  key_prefix: \"test:\"\n" +
		"lock:\n" +
		"  timeout: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	res := runCLI(t, "--config", path, "acquire", "--owner", "w1", "job1")
	require.NoError(t, res.err)
	assert.True(t, mr.Exists("test:job1"))

	res = runCLI(t, "-c", path, "renew", "--owner", "w1", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "renewed job1 for 1m0s\n", res.stdout)
}

func TestConfigFile_FlagOverrides(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "xdlockctl.json")
	content := `{"backend": "mongo", "redis": {"addr": "127.0.0.1:1"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	res := runCLI(t, "-c", path, "--backend", "redis", "--redis-addr", mr.Addr(), "status", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "job1 free\n", res.stdout)
}

func TestConfigFile_Errors(t *testing.T) {
	dir := t.TempDir()

	res := runCLI(t, "-c", filepath.Join(dir, "missing.yaml"), "status", "job1")
	assert.Equal(t, 2, res.code())

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("x = 1"), 0o600))
	res = runCLI(t, "-c", bad, "status", "job1")
	assert.Equal(t, 2, res.code())

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("lock:\n  timeout: 0s\n"), 0o600))
	res = runCLI(t, "-c", invalid, "--backend", "redis", "status", "job1")
	var usageErr *usageError
	require.ErrorAs(t, res.err, &usageErr)
	assert.Contains(t, usageErr.Error(), "lock.timeout")
}

func TestLogLevelFlag(t *testing.T) {
	_, run := redisCLI(t)

	res := run("--log-level", "nope", "status", "job1")
	assert.Equal(t, 2, res.code())

	require.NoError(t, run("acquire", "--owner", "w1", "job1").err)

	res = run("--log-level", "debug", "--log-format", "json", "acquire", "--owner", "w2", "job1")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stderr, `"level":"DEBUG"`)
	assert.Contains(t, res.stderr, "lock busy")
}

// =============================================================================
// 辅助函数
// =============================================================================

func testLogger(t *testing.T) xlog.Logger {
	t.Helper()
	logger, cleanup, err := newLogger(logSettings{Level: "debug", Format: "text"}, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	return logger
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStderr string
	}{
		{"nil", nil, 0, ""},
		{"exit error", &exitError{code: 1}, 1, ""},
		{"wrapped exit error", errors.Join(errors.New("x"), &exitError{code: 3}), 3, ""},
		{"usage error", &usageError{msg: "bad"}, 2, "参数错误: bad\n"},
		{"cli usage error", errors.New("flag provided but not defined: -x"), 2, "参数错误"},
		{"other", errors.New("boom"), 1, "错误: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, tt.wantCode, exitCode(tt.err, &stderr))
			assert.Contains(t, stderr.String(), tt.wantStderr)
		})
	}
}

func TestIsCLIUsageError(t *testing.T) {
	assert.False(t, isCLIUsageError(nil))
	assert.False(t, isCLIUsageError(errors.New("connection refused")))
	assert.True(t, isCLIUsageError(errors.New(`Required flag "owner" not set`)))
	assert.True(t, isCLIUsageError(errors.New(`invalid value "x" for flag -wait`)))
}

func TestWriteRecords(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []xdlock.Record{
		{Name: "a", Owner: "w1", Expires: now.Add(time.Minute)},
		{Name: "b", Owner: "w2", Expires: now.Add(-time.Minute)},
	}
	page := &xmongo.PageResult{Total: 12, Page: 2, PageSize: 10, TotalPages: 2}

	var buf bytes.Buffer
	require.NoError(t, writeRecords(&buf, records, page, now))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"NAME", "OWNER", "EXPIRES", "STATE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"a", "w1", "2026-01-02T03:05:05Z", "held"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"b", "w2", "2026-01-02T03:03:05Z", "expired"}, strings.Fields(lines[2]))
	assert.Equal(t, "page 2/2, total 12", lines[3])
}

func TestExpiredMarker(t *testing.T) {
	now := time.Now()
	assert.Empty(t, expiredMarker(xdlock.Record{Expires: now.Add(time.Second)}, now))
	assert.Equal(t, " (expired)", expiredMarker(xdlock.Record{Expires: now.Add(-time.Second)}, now))
}
