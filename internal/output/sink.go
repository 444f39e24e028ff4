// Package output serializes user-visible messages onto a single writer.
package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/rs/zerolog"
)

// Reporter accepts user-visible messages.
type Reporter interface {
	Send(msg string) bool
}

type message struct {
	text string
	last bool
}

// Sink is a buffered message channel with exactly one consumer.
type Sink struct {
	messages     chan message
	sendTimeout  time.Duration
	pollInterval time.Duration
	clock        clockwork.Clock
	stopped      atomic.Bool
	done         chan struct{}
	logger       zerolog.Logger
}

var _ Reporter = (*Sink)(nil)

func New(cfg config.OutputConfig, clock clockwork.Clock) *Sink {
	size := cfg.BufferSize
	if size < 0 {
		size = 0
	}
	return &Sink{
		messages:     make(chan message, size),
		sendTimeout:  cfg.SendTimeout,
		pollInterval: cfg.PollInterval,
		clock:        clock,
		done:         make(chan struct{}),
		logger:       logger.GetLogger("output"),
	}
}

// Send enqueues msg. When the buffer stays full for longer than the send
// timeout the message is dropped and false is returned.
func (s *Sink) Send(msg string) bool {
	m := message{text: msg}
	select {
	case s.messages <- m:
		return true
	default:
	}

	select {
	case s.messages <- m:
		return true
	case <-s.done:
	case <-s.clock.After(s.sendTimeout):
	}

	s.logger.Warn().
		Str("message", msg).
		Dur("timeout", s.sendTimeout).
		Msg("Output buffer full, dropping message")
	return false
}

// Sendf formats and enqueues a message.
func (s *Sink) Sendf(format string, args ...any) bool {
	return s.Send(fmt.Sprintf(format, args...))
}

// Run prints messages to w in arrival order until the sentinel queued by
// Close is reached or Stop is observed at a poll timeout.
func (s *Sink) Run(w io.Writer) {
	defer close(s.done)

	for {
		select {
		case m := <-s.messages:
			if m.last {
				return
			}
			if _, err := fmt.Fprintln(w, m.text); err != nil {
				s.logger.Error().Err(err).Msg("Error writing output")
			}
		case <-s.clock.After(s.pollInterval):
			if s.stopped.Load() {
				return
			}
		}
	}
}

// Close queues the sentinel. Everything sent before it is still printed.
func (s *Sink) Close() {
	select {
	case s.messages <- message{last: true}:
	case <-s.done:
	}
}

// Stop makes the consumer exit at its next poll timeout without draining.
func (s *Sink) Stop() {
	s.stopped.Store(true)
}

// Done is closed once Run has returned.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}
