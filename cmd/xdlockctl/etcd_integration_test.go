//go:build integration

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func etcdEndpoints(t *testing.T) string {
	t.Helper()
	if endpoints := os.Getenv("MONGOLOCK_ETCD_ENDPOINTS"); endpoints != "" {
		return endpoints
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found in PATH, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/coreos/etcd:v3.5.17",
			ExposedPorts: []string{"2379/tcp"},
			Cmd: []string{
				"etcd",
				"--advertise-client-urls=http://0.0.0.0:2379",
				"--listen-client-urls=http://0.0.0.0:2379",
			},
			WaitingFor: wait.ForLog("ready to serve client requests"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("etcd container not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "http")
	require.NoError(t, err)
	return endpoint
}

func TestEtcdBackend_Integration(t *testing.T) {
	endpoints := etcdEndpoints(t)
	path := fmt.Sprintf("%s/xdlockctl.yaml", t.TempDir())
	content := fmt.Sprintf("etcd:\n  key_prefix: xdlockctl-test/%d/\n", time.Now().UnixNano())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	run := func(args ...string) cliResult {
		t.Helper()
		return runCLI(t, append([]string{
			"-c", path, "--backend", "etcd", "--etcd-endpoints", endpoints, "-t", "10s",
		}, args...)...)
	}

	res := run("ping")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "etcd ok ("), res.stdout)

	require.NoError(t, run("acquire", "--owner", "w1", "job1").err)
	assert.Equal(t, 1, run("acquire", "--owner", "w2", "job1").code())

	res = run("status", "job1")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "job1 owner=w1 expires="), res.stdout)

	res = run("renew", "--owner", "w1", "--lock-timeout", "1m", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "renewed job1 for 1m0s\n", res.stdout)

	require.NoError(t, run("release", "--owner", "w1", "job1").err)
	res = run("status", "job1")
	require.NoError(t, res.err)
	assert.Equal(t, "job1 free\n", res.stdout)

	assert.Equal(t, 2, run("list").code())
}
