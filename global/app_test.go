package global

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"famly/global/config"
	"famly/service/chat"
)

func memoryConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	t.Setenv("FAMLY_STORE_DRIVER", "memory")
	t.Setenv("FAMLY_AUTH_SECRET", "test-secret")
	t.Setenv("FAMLY_SERVER_ADDR", "127.0.0.1:0")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Memory.Chats = map[string][]string{"65f1a0000000000000000001": {"alice", "bob"}}
	return cfg
}

func TestNew_MemoryDriver(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)

	require.NotNil(t, a.Hub())
	for _, ev := range []string{chat.EventRoomJoin, chat.EventRoomLeave, chat.EventMessageSend, chat.EventReceiptRead, chat.EventPresencePing} {
		assert.NotNil(t, a.Hub().Dispatcher().GetHandler(ev), ev)
	}
	assert.Nil(t, a.mongo)
	assert.Nil(t, a.rdb)
	assert.Nil(t, a.nats)
	assert.Nil(t, a.kafka)
	assert.NoError(t, a.ready(context.Background()))

	c := a.Hub().Connect("alice", "127.0.0.1")
	assert.NoError(t, a.Hub().Rooms().AuthorizeJoin(context.Background(), c, "65f1a0000000000000000001"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RejectsUnreachableRedis(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_WiresRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	require.NotNil(t, a.rdb)
	assert.NoError(t, a.ready(context.Background()))

	c := a.Hub().Connect("alice", "127.0.0.1")
	assert.Eventually(t, func() bool {
		return mr.Exists("famly:presence:{alice}:nodes")
	}, 2*time.Second, 10*time.Millisecond)
	a.Hub().Disconnect(c)
}
