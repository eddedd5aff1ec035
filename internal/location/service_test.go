package location

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func deviceFix(lat, lng float64, ts time.Time) *DeviceFix {
	return &DeviceFix{Lat: lat, Lng: lng, Ts: ts.UnixMilli(), ServicesEnabled: true, PermissionGranted: true}
}

func TestStreamProviderStatusFlags(t *testing.T) {
	p := NewStreamProvider()
	ctx := context.Background()

	enabled, _ := p.ServicesEnabled(ctx)
	require.False(t, enabled)

	require.True(t, p.Ingest(&DeviceFix{ServicesEnabled: true, PermissionGranted: false}))
	enabled, _ = p.ServicesEnabled(ctx)
	granted, _ := p.RequestPermission(ctx)
	require.True(t, enabled)
	require.False(t, granted)

	require.False(t, p.Ingest(&DeviceFix{Lat: 120, Lng: 10, ServicesEnabled: true, PermissionGranted: true}))
}

func TestStreamProviderCurrentFix(t *testing.T) {
	p := NewStreamProvider()
	now := time.Now()
	p.now = func() time.Time { return now }

	got := make(chan Fix, 1)
	go func() {
		fix, err := p.CurrentFix(context.Background(), 5*time.Second)
		if err == nil {
			got <- fix
		}
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.waiters) == 1
	}, time.Second, time.Millisecond)

	p.Ingest(deviceFix(36.8, 10.18, now.Add(-time.Second)))
	fix := <-got
	require.InDelta(t, 36.8, fix.Point.Lat, 1e-9)

	// cached fix is young enough
	cached, err := p.CurrentFix(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, fix, cached)

	// zero max age always waits for a new fix
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.CurrentFix(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	p.mu.Lock()
	require.Empty(t, p.waiters)
	p.mu.Unlock()
}

func TestStreamProviderSubscribeKeepsLatest(t *testing.T) {
	p := NewStreamProvider()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Subscribe(ctx)
	require.NoError(t, err)

	now := time.Now()
	p.Ingest(deviceFix(36.80, 10.18, now))
	p.Ingest(deviceFix(36.81, 10.18, now.Add(time.Second)))

	fix := <-ch
	require.InDelta(t, 36.81, fix.Point.Lat, 1e-9)

	cancel()
	require.Eventually(t, func() bool { return p.Subscribers() == 0 }, time.Second, time.Millisecond)
	_, open := <-ch
	require.False(t, open)
}

func TestStreamFixesOverGRPC(t *testing.T) {
	provider := NewStreamProvider()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec()))
	RegisterLocationServer(srv, NewServer(provider, nil))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec())),
	)
	require.NoError(t, err)
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "StreamFixes", ClientStreams: true}, "/location.Location/StreamFixes")
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, stream.SendMsg(deviceFix(36.80, 10.18, now)))
	require.NoError(t, stream.SendMsg(deviceFix(36.82, 10.19, now.Add(time.Second))))
	require.NoError(t, stream.CloseSend())

	var ack Ack
	require.NoError(t, stream.RecvMsg(&ack))
	require.EqualValues(t, 2, ack.Received)

	fix, err := provider.CurrentFix(ctx, time.Hour)
	require.NoError(t, err)
	require.InDelta(t, 36.82, fix.Point.Lat, 1e-9)
	require.InDelta(t, 10.19, fix.Point.Lng, 1e-9)
}
