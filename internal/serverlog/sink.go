package serverlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"go.uber.org/zap"
)

const (
	// MaxEmbedsPerMessage is the platform limit of embeds in one message.
	MaxEmbedsPerMessage = 10
	// FlushInterval is how often pending batches are posted.
	FlushInterval = time.Second

	queueSize = 1024
)

// ServerSource resolves the logging settings of a server.
type ServerSource interface {
	Server(ctx context.Context, serverID uint64) (*types.Server, error)
}

// EmbedSender posts embeds to a channel.
type EmbedSender interface {
	SendEmbeds(ctx context.Context, channelID uint64, embeds []platform.Embed) error
}

// Sink groups server logs per logging channel and posts them in batches.
type Sink struct {
	servers  ServerSource
	sender   EmbedSender
	interval time.Duration
	logger   *zap.Logger

	entries chan ServerLog
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
}

// NewSink creates a Sink. Run must be started to deliver logs.
func NewSink(servers ServerSource, sender EmbedSender, logger *zap.Logger) *Sink {
	return &Sink{
		servers:  servers,
		sender:   sender,
		interval: FlushInterval,
		logger:   logger.Named("serverlog"),
		entries:  make(chan ServerLog, queueSize),
		done:     make(chan struct{}),
	}
}

// Log queues a record. Records are dropped once the sink is closed or when
// the queue is full.
func (s *Sink) Log(entry ServerLog) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.entries <- entry:
	default:
		s.logger.Warn("Server log queue is full, dropping record",
			zap.Uint64("server_id", entry.ServerID()))
	}
}

// Run delivers queued records until Close is called or ctx is done.
// Pending batches are flushed before returning.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batches := make(map[uint64][]platform.Embed)

	for {
		select {
		case entry, ok := <-s.entries:
			if !ok {
				s.flushAll(context.WithoutCancel(ctx), batches)
				return
			}

			s.add(ctx, batches, entry)
		case <-ticker.C:
			s.flushAll(ctx, batches)
		case <-ctx.Done():
			s.flushAll(context.WithoutCancel(ctx), batches)
			return
		}
	}
}

// Close stops accepting records and waits for Run to flush what is pending.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.entries)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// add appends a record to the batch of its logging channel.
func (s *Sink) add(ctx context.Context, batches map[uint64][]platform.Embed, entry ServerLog) {
	server, err := s.servers.Server(ctx, entry.ServerID())
	if err != nil {
		if !errors.Is(err, types.ErrServerNotFound) {
			s.logger.Error("Failed to resolve server for log", zap.Error(err), zap.Uint64("server_id", entry.ServerID()))
		}

		return
	}

	if server.LoggingChannelID == nil || !server.LoggingTypes.Has(entry.Category()) {
		return
	}

	channelID := *server.LoggingChannelID

	batches[channelID] = append(batches[channelID], entry.Embed())
	if len(batches[channelID]) >= MaxEmbedsPerMessage {
		s.flush(ctx, channelID, batches[channelID])
		delete(batches, channelID)
	}
}

func (s *Sink) flushAll(ctx context.Context, batches map[uint64][]platform.Embed) {
	for channelID, embeds := range batches {
		s.flush(ctx, channelID, embeds)
		delete(batches, channelID)
	}
}

func (s *Sink) flush(ctx context.Context, channelID uint64, embeds []platform.Embed) {
	if len(embeds) == 0 {
		return
	}

	if err := s.sender.SendEmbeds(ctx, channelID, embeds); err != nil {
		telemetry.ServerLogBatches.WithLabelValues("error").Inc()
		s.logger.Error("Failed to post server logs",
			zap.Error(err),
			zap.Uint64("channel_id", channelID),
			zap.Int("embeds", len(embeds)))

		return
	}

	telemetry.ServerLogBatches.WithLabelValues("ok").Inc()
}
