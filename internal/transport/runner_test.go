package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// fakeDevice is an in-memory interactive CLI driven by a respond func
type fakeDevice struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	lines   chan string
	mu      sync.Mutex
	writes  []string
	respond func(d *fakeDevice, line string)
}

func newFakeDevice(respond func(d *fakeDevice, line string)) *fakeDevice {
	pr, pw := io.Pipe()
	d := &fakeDevice{
		pr:      pr,
		pw:      pw,
		lines:   make(chan string, 16),
		respond: respond,
	}
	go func() {
		d.emit("Welcome to ZXAN\r\n", "ZXAN#")
		for line := range d.lines {
			d.respond(d, line)
		}
	}()
	return d
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	return d.pr.Read(p)
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	d.writes = append(d.writes, string(p))
	d.mu.Unlock()

	select {
	case d.lines <- strings.TrimSuffix(string(p), "\n"):
	default:
	}
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.pw.Close()
	return nil
}

// emit writes chunks with a short pause between them
func (d *fakeDevice) emit(chunks ...string) {
	for _, chunk := range chunks {
		if _, err := d.pw.Write([]byte(chunk)); err != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (d *fakeDevice) count(s string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.writes {
		if w == s {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	device *fakeDevice
	err    error
}

func (f *fakeDialer) Dial(ctx context.Context, creds models.Credentials) (Shell, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.device, nil
}

func testRunner(dialer Dialer) *Runner {
	return NewRunner(dialer, NewRegistry(), Options{
		IdleTimeout:     400 * time.Millisecond,
		DataIdleTimeout: 30 * time.Millisecond,
	}, common.NewTestLogger())
}

func request(commands ...string) interfaces.CommandRequest {
	return interfaces.CommandRequest{
		Commands:    commands,
		Credentials: models.Credentials{Host: "10.0.0.1", Username: "admin", Password: "pw"},
	}
}

func TestRun_ConcatenatesResponses(t *testing.T) {
	device := newFakeDevice(func(d *fakeDevice, line string) {
		switch line {
		case "conf t":
			d.emit("conf t\r\n", "ZXAN(config)#")
		case "show card":
			d.emit("show card\r\nRack Shelf Slot\r\n", "1    1     1\r\n", "ZXAN(config)#")
		}
	})
	runner := testRunner(&fakeDialer{device: device})

	output, err := runner.Run(context.Background(), request("conf t", "show card"))
	require.NoError(t, err)
	assert.Equal(t, "conf t\r\nZXAN(config)#show card\r\nRack Shelf Slot\r\n1    1     1\r\nZXAN(config)#", output)
	assert.Empty(t, runner.registry.Active())
}

func TestRun_ConfirmationAnsweredOncePerCommand(t *testing.T) {
	device := newFakeDevice(func(d *fakeDevice, line string) {
		switch line {
		case "reboot":
			// the prompt repeats across chunks before the answer arrives
			d.emit("reboot\r\nConfirm to reboot? [yes/no]:", " [yes/no]:", "\r\n[yes/no]:")
		case "yes":
			d.emit("\r\nONU rebooting\r\n", "ZXAN(config)#")
		case "erase":
			d.emit("erase\r\nErase config? [yes/", "no]:")
		}
	})
	runner := testRunner(&fakeDialer{device: device})

	output, err := runner.Run(context.Background(), request("reboot", "erase"))
	require.NoError(t, err)
	assert.Contains(t, output, "ONU rebooting")

	// once for reboot, once for erase (flag resets on the new command)
	assert.Equal(t, 2, device.count("yes\n"))
}

func TestRun_IdleTimeoutDiscardsOutput(t *testing.T) {
	device := newFakeDevice(func(d *fakeDevice, line string) {
		if line == "conf t" {
			d.emit("ZXAN(config)#")
		}
		// "show gpon onu uncfg" never answers
	})
	runner := testRunner(&fakeDialer{device: device})

	output, err := runner.Run(context.Background(), request("conf t", "show gpon onu uncfg"))
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Empty(t, output)
}

func TestRun_SessionClosedEarly(t *testing.T) {
	device := newFakeDevice(func(d *fakeDevice, line string) {
		d.emit("bye\r\n")
		d.pw.Close()
	})
	runner := testRunner(&fakeDialer{device: device})

	_, err := runner.Run(context.Background(), request("exit", "show card"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestRun_LastCommandMayCloseSession(t *testing.T) {
	device := newFakeDevice(func(d *fakeDevice, line string) {
		d.emit("bye\r\n")
		d.pw.Close()
	})
	runner := testRunner(&fakeDialer{device: device})

	output, err := runner.Run(context.Background(), request("exit"))
	require.NoError(t, err)
	assert.Equal(t, "bye\r\n", output)
}

func TestRun_DialError(t *testing.T) {
	runner := testRunner(&fakeDialer{err: errors.New("connection refused")})

	_, err := runner.Run(context.Background(), request("conf t"))
	assert.ErrorContains(t, err, "connection refused")

	_, err = runner.Run(context.Background(), request())
	assert.Error(t, err)
}

func TestRegistry_LockSerializesHost(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	unlock, err := registry.Lock(ctx, "10.0.0.1")
	require.NoError(t, err)

	// a different host is independent
	other, err := registry.Lock(ctx, "10.0.0.2")
	require.NoError(t, err)
	other()

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = registry.Lock(timeoutCtx, "10.0.0.1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := registry.Lock(ctx, "10.0.0.1")
	require.NoError(t, err)
	again()

	session := registry.Open("10.0.0.1", "admin", 3)
	require.Len(t, registry.Active(), 1)
	assert.Equal(t, 3, registry.Active()[0].Commands)
	registry.Close(session.ID)
	assert.Empty(t, registry.Active())
}
