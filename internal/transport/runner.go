package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// ConfirmPrompt is the device confirmation marker answered with "yes"
const ConfirmPrompt = "[yes/no]"

var (
	// ErrIdleTimeout is returned when the device sends nothing for the idle window
	ErrIdleTimeout = errors.New("device session idle timeout")

	// ErrSessionClosed is returned when the device closes the session before every command ran
	ErrSessionClosed = errors.New("device session closed early")

	// DefaultPrompt matches a CLI prompt at the end of the buffer, e.g. "ZXAN#" or "ZXAN(config)#"
	DefaultPrompt = regexp.MustCompile(`[#>$]\s*$`)
)

// Shell is an interactive device session
type Shell interface {
	io.ReadWriteCloser
}

// Dialer opens interactive shells
type Dialer interface {
	Dial(ctx context.Context, creds models.Credentials) (Shell, error)
}

// Options are the session constants shared by every run
type Options struct {
	// IdleTimeout aborts the session when no data at all arrives for this long
	IdleTimeout time.Duration
	// DataIdleTimeout is the quiet period that ends a response once a prompt is seen
	DataIdleTimeout time.Duration
	// Prompt detects the end of a response
	Prompt *regexp.Regexp
	// Debug echoes every raw response at debug level
	Debug bool
}

// NewOptions builds runner options from configuration
func NewOptions(config common.TransportConfig) Options {
	return Options{
		IdleTimeout:     common.ParseDuration(config.IdleTimeout, 50*time.Second),
		DataIdleTimeout: common.ParseDuration(config.DataIdleTimeout, 100*time.Millisecond),
		Prompt:          DefaultPrompt,
		Debug:           config.Debug,
	}
}

// Runner executes command batches over interactive shells
type Runner struct {
	dialer   Dialer
	registry *Registry
	options  Options
	logger   arbor.ILogger
}

var _ interfaces.CommandRunner = (*Runner)(nil)

// NewRunner creates a command runner
func NewRunner(dialer Dialer, registry *Registry, options Options, logger arbor.ILogger) *Runner {
	if options.Prompt == nil {
		options.Prompt = DefaultPrompt
	}
	if options.IdleTimeout <= 0 {
		options.IdleTimeout = 50 * time.Second
	}
	if options.DataIdleTimeout <= 0 {
		options.DataIdleTimeout = 100 * time.Millisecond
	}
	return &Runner{
		dialer:   dialer,
		registry: registry,
		options:  options,
		logger:   logger,
	}
}

// Run opens one session, executes the commands in order and returns the
// concatenated responses. Any failure discards the output.
func (r *Runner) Run(ctx context.Context, req interfaces.CommandRequest) (string, error) {
	if len(req.Commands) == 0 {
		return "", fmt.Errorf("no commands to run")
	}
	host := req.Credentials.Host

	unlock, err := r.registry.Lock(ctx, host)
	if err != nil {
		return "", err
	}
	defer unlock()

	shell, err := r.dialer.Dial(ctx, req.Credentials)
	if err != nil {
		return "", fmt.Errorf("failed to open session to %s: %w", host, err)
	}
	defer shell.Close()

	session := r.registry.Open(host, req.Credentials.Username, len(req.Commands))
	defer r.registry.Close(session.ID)

	stream := newChunkStream(shell)
	defer stream.close()

	startTime := time.Now()
	r.logger.Debug().
		Str("session_id", session.ID).
		Str("host", host).
		Int("commands", len(req.Commands)).
		Msg("Device session opened")

	output, err := r.runCommands(ctx, shell, stream, req)

	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("session_id", session.ID).
			Str("host", host).
			Dur("duration", time.Since(startTime)).
			Msg("Device session failed")
		return "", err
	}

	r.logger.Debug().
		Str("session_id", session.ID).
		Str("host", host).
		Dur("duration", time.Since(startTime)).
		Msg("Device session closed")
	return output, nil
}

func (r *Runner) runCommands(ctx context.Context, shell Shell, stream *chunkStream, req interfaces.CommandRequest) (string, error) {
	// Discard the login banner up to the first prompt
	if _, _, err := r.readResponse(ctx, shell, stream, ""); err != nil {
		return "", fmt.Errorf("waiting for initial prompt: %w", err)
	}

	var output strings.Builder
	for i, command := range req.Commands {
		if _, err := io.WriteString(shell, command+"\n"); err != nil {
			return "", fmt.Errorf("failed to send command %q: %w", command, err)
		}

		response, closed, err := r.readResponse(ctx, shell, stream, command)
		if err != nil {
			return "", fmt.Errorf("command %q: %w", command, err)
		}

		if req.Debug || r.options.Debug {
			r.logger.Debug().
				Str("host", req.Credentials.Host).
				Str("command", command).
				Str("response", response).
				Msg("Device response")
		}
		output.WriteString(response)

		if closed {
			if i < len(req.Commands)-1 {
				return "", fmt.Errorf("after command %q: %w", command, ErrSessionClosed)
			}
			break
		}
	}

	return output.String(), nil
}

// readResponse collects one command response. It ends when a prompt is present and
// the stream has been quiet for DataIdleTimeout, or when the device closes the stream.
// A confirmation prompt is answered at most once per command, however many chunks repeat it.
func (r *Runner) readResponse(ctx context.Context, shell Shell, stream *chunkStream, command string) (string, bool, error) {
	var buf strings.Builder
	confirmSent := false

	idle := time.NewTimer(r.options.IdleTimeout)
	defer idle.Stop()

	var quiet *time.Timer
	var quietC <-chan time.Time
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()

		case chunk, ok := <-stream.chunks:
			if !ok {
				if err := stream.err(); err != nil && !errors.Is(err, io.EOF) {
					return "", false, err
				}
				return buf.String(), true, nil
			}

			buf.Write(chunk)
			resetTimer(idle, r.options.IdleTimeout)
			if quiet == nil {
				quiet = time.NewTimer(r.options.DataIdleTimeout)
				quietC = quiet.C
			} else {
				resetTimer(quiet, r.options.DataIdleTimeout)
			}

			if !confirmSent && strings.Contains(buf.String(), ConfirmPrompt) {
				if _, err := io.WriteString(shell, "yes\n"); err != nil {
					return "", false, fmt.Errorf("failed to confirm prompt: %w", err)
				}
				confirmSent = true
				r.logger.Debug().Str("command", command).Msg("Confirmation prompt answered")
			}

		case <-quietC:
			if r.options.Prompt.MatchString(buf.String()) {
				return buf.String(), false, nil
			}
			// output paused without a prompt, keep waiting until the idle window closes

		case <-idle.C:
			return "", false, ErrIdleTimeout
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// chunkStream pumps shell reads into a channel so reads can be raced against timers
type chunkStream struct {
	chunks  chan []byte
	done    chan struct{}
	readErr error
}

func newChunkStream(reader io.Reader) *chunkStream {
	s := &chunkStream{
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.chunks)
		buf := make([]byte, 4096)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case s.chunks <- chunk:
				case <-s.done:
					return
				}
			}
			if err != nil {
				s.readErr = err
				return
			}
		}
	}()

	return s
}

// err is valid once chunks is closed
func (s *chunkStream) err() error {
	return s.readErr
}

func (s *chunkStream) close() {
	close(s.done)
}
