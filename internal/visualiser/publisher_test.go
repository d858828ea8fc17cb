package visualiser

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startBufconn(t *testing.T, cfg Config) (*Publisher, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(cfg)
	require.NoError(t, pub.StartOn(lis))

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		pub.Stop()
	})
	return pub, NewClient(conn)
}

func TestPublisher_StreamsEvents(t *testing.T) {
	pub, client := startBufconn(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.Stream(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 5*time.Second, 10*time.Millisecond)

	ev := sampleEvent()
	pub.OnFinalResult(ev)

	f, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, ev.ID, f.GrabID)
	assert.Equal(t, uint64(4), f.Index)
	assert.True(t, f.Final)
	assert.Equal(t, []float64{0, 1, 2}, f.XAxis)
	assert.Equal(t, 6.0, f.Grid().At(1, 2))

	cancel()
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPublisher_MaxClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	pub, client := startBufconn(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := client.Stream(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 5*time.Second, 10*time.Millisecond)

	second, err := client.Stream(ctx)
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_DropsWhenNotRunningOrFull(t *testing.T) {
	pub := NewPublisher(Config{QueueSize: 1})
	pub.OnPartialResult(sampleEvent())
	assert.Zero(t, pub.Stats().FrameCount, "stopped publisher ignores frames")

	// Without the broadcast loop draining, the second frame overflows.
	pub.running.Store(true)
	pub.Publish(FrameFromEvent(sampleEvent()))
	pub.Publish(FrameFromEvent(sampleEvent()))
	st := pub.Stats()
	assert.Equal(t, uint64(1), st.FrameCount)
	assert.Equal(t, uint64(1), st.DroppedFrames)
}

func TestPublisher_StopEndsStreams(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(DefaultConfig())
	require.NoError(t, pub.StartOn(lis))

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	stream, err := NewClient(conn).Stream(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 5*time.Second, 10*time.Millisecond)

	pub.Stop()
	_, err = stream.Recv()
	assert.Error(t, err)
	assert.False(t, pub.Stats().Running)
}
