package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/models"
)

// silentListener accepts TCP connections and never writes a byte
func silentListener(t *testing.T) *net.TCPAddr {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})

	return listener.Addr().(*net.TCPAddr)
}

func TestSSHDialer_HandshakeBoundedByDialTimeout(t *testing.T) {
	addr := silentListener(t)
	dialer := NewSSHDialer(common.TransportConfig{DialTimeout: "200ms"}, arbor.NewLogger())

	start := time.Now()
	shell, err := dialer.Dial(context.Background(), models.Credentials{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		Username: "admin",
		Password: "pw",
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, shell)
	assert.Contains(t, err.Error(), "handshake")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSSHDialer_HandshakeBoundedByContext(t *testing.T) {
	addr := silentListener(t)
	dialer := NewSSHDialer(common.TransportConfig{DialTimeout: "1m"}, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := dialer.Dial(ctx, models.Credentials{Host: "127.0.0.1", Port: addr.Port, Username: "admin"})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
