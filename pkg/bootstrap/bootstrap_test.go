package bootstrap_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-hub/validator-core/pkg/bootstrap"
	"github.com/caster-hub/validator-core/pkg/budget"
	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestBuildAndRunServesStatusThenShutsDownCleanly(t *testing.T) {
	port := freePort(t)

	cfg := config.Load()
	cfg.Host = "127.0.0.1"
	cfg.Port = fmt.Sprintf("%d", port)
	cfg.Sandbox.Image = "caster/sandbox:test"
	cfg.Subtensor.BackoffFilePath = t.TempDir() + "/backoff"

	fake := chain.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	graph, err := bootstrap.Build(ctx, cfg, fake, nil, nil, map[string]budget.ModelTariff{}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- graph.Run(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", port))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("graph.Run did not shut down within timeout")
	}
}
