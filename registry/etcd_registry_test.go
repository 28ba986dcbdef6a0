package registry

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// etcdEndpoint returns a reachable etcd endpoint or skips the test.
func etcdEndpoint(t *testing.T) string {
	t.Helper()
	endpoint := os.Getenv("WIRERPC_TEST_ETCD")
	if endpoint == "" {
		endpoint = "127.0.0.1:2379"
	}
	conn, err := net.DialTimeout("tcp", endpoint, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", endpoint, err)
	}
	conn.Close()
	return endpoint
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry([]string{etcdEndpoint(t)}, 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const service = "wirerpc-test"
	inst1 := ServiceInstance{ID: "a", Addr: "127.0.0.1:8001", Codec: "binary", Version: "1.0"}
	inst2 := ServiceInstance{ID: "b", Addr: "127.0.0.1:8002", Codec: "binary", Version: "1.0"}

	require.NoError(t, reg.Register(ctx, service, inst1, 10))
	require.NoError(t, reg.Register(ctx, service, inst2, 10))
	defer reg.Deregister(context.Background(), service, inst2.ID)

	instances, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ServiceInstance{inst1, inst2}, instances)

	require.NoError(t, reg.Deregister(ctx, service, inst1.ID))

	instances, err = reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, []ServiceInstance{inst2}, instances)
}

func TestEtcdWatch(t *testing.T) {
	reg, err := NewEtcdRegistry([]string{etcdEndpoint(t)}, 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const service = "wirerpc-watch-test"
	updates := reg.Watch(ctx, service)
	waitFor := func(want []ServiceInstance) {
		t.Helper()
		for {
			select {
			case got, ok := <-updates:
				require.True(t, ok, "watch ended")
				if assert.ObjectsAreEqual(want, got) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("never saw %v", want)
			}
		}
	}

	waitFor([]ServiceInstance{})

	inst := ServiceInstance{ID: "w", Addr: "127.0.0.1:8003", Codec: "binary"}
	require.NoError(t, reg.Register(ctx, service, inst, 10))
	waitFor([]ServiceInstance{inst})

	require.NoError(t, reg.Deregister(ctx, service, inst.ID))
	waitFor([]ServiceInstance{})
}
