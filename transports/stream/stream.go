// Package stream carries messages as newline-delimited JSON over a byte
// stream, such as a child process's stdio or a socket.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/messaging"
)

// DefaultMaxLineSize bounds a single encoded message
const DefaultMaxLineSize = 1 << 20

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("stream closed")

// Option configures a stream channel
type Option func(*Config)

// Config holds configuration for a stream channel
type Config struct {
	MaxLineSize int
	Logger      *slog.Logger
}

// WithMaxLineSize sets the longest line the reader accepts. Longer lines
// are skipped.
func WithMaxLineSize(size int) Option {
	return func(c *Config) {
		c.MaxLineSize = size
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Channel implements messaging.Channel over a reader and a writer. Each line
// read is handed to subscribers as a string.
type Channel struct {
	reader io.Reader
	writer io.Writer
	config *Config

	writeMu sync.Mutex

	mu          sync.RWMutex
	subscribers map[uint64]func(raw any)
	nextID      uint64
	closed      bool

	startOnce sync.Once
	done      chan struct{}
	readErr   error
}

var _ messaging.Channel = (*Channel)(nil)

// New creates a channel reading from r and writing to w. Reading starts with
// the first subscription.
func New(r io.Reader, w io.Writer, opts ...Option) *Channel {
	config := &Config{
		MaxLineSize: DefaultMaxLineSize,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.MaxLineSize <= 0 {
		config.MaxLineSize = DefaultMaxLineSize
	}

	return &Channel{
		reader:      r,
		writer:      w,
		config:      config,
		subscribers: make(map[uint64]func(raw any)),
		done:        make(chan struct{}),
	}
}

// Send writes msg as a single line
func (c *Channel) Send(ctx context.Context, msg *contracts.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := contracts.Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message %q: %w", msg.Name, err)
	}
	if f, ok := c.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("failed to flush message %q: %w", msg.Name, err)
		}
	}
	return nil
}

// Subscribe registers handler for every line read
func (c *Channel) Subscribe(handler func(raw any)) (messaging.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id := c.nextID
	c.nextID++
	c.subscribers[id] = handler
	c.mu.Unlock()

	c.startOnce.Do(func() {
		go c.readLoop()
	})

	return messaging.SubscriptionFunc(func() error {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
		return nil
	}), nil
}

// Done is closed when the reader reaches the end of the stream or fails
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the stream, nil on a clean EOF
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close stops delivery and closes the reader and writer when they are closers
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subscribers = make(map[uint64]func(raw any))
	c.mu.Unlock()

	var errs []error
	if closer, ok := c.reader.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if closer, ok := c.writer.(io.Closer); ok && any(c.writer) != any(c.reader) {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func (c *Channel) readLoop() {
	defer close(c.done)

	limit := c.config.MaxLineSize
	reader := bufio.NewReaderSize(c.reader, min(4096, limit))

	var (
		line      []byte
		oversized bool
	)
	for {
		chunk, err := reader.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > limit {
				oversized = true
				line = line[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if oversized {
			c.config.Logger.Warn("skipping oversized line", "limit", limit)
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			c.dispatch(string(trimmed))
		}
		line, oversized = line[:0], false

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			c.config.Logger.Debug("stream reached end of input")
			return
		}

		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if !closed {
			c.readErr = fmt.Errorf("failed to read stream: %w", err)
			c.config.Logger.Error("stream read failed", "error", err)
		}
		return
	}
}

func (c *Channel) dispatch(line string) {
	c.mu.RLock()
	handlers := make([]func(raw any), 0, len(c.subscribers))
	for _, h := range c.subscribers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.config.Logger.Error("subscriber panicked", "panic", r)
				}
			}()
			handler(line)
		}()
	}
}
