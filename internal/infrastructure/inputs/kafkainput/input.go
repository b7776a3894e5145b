// Package kafkainput consumes error events from a Kafka-compatible broker.
package kafkainput

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
)

const fullBufferBackoff = 100 * time.Millisecond

// Options selects the brokers, topic and consumer group to read.
type Options struct {
	Brokers    []string
	Topic      string
	Group      string
	FromLatest bool
}

// Input polls a consumer group and hands each record value to the buffer.
// Offsets are committed only after every record of a poll was accepted.
type Input struct {
	opts   Options
	buffer inputs.InputBuffer
	logger zerolog.Logger

	mu     sync.Mutex
	client *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInput returns a consumer that is not connected until Start.
func NewInput(opts Options, buffer inputs.InputBuffer, logger zerolog.Logger) *Input {
	return &Input{opts: opts, buffer: buffer, logger: logger}
}

func (i *Input) clientOptions() []kgo.Opt {
	offset := kgo.NewOffset().AtStart()
	if i.opts.FromLatest {
		offset = kgo.NewOffset().AtEnd()
	}
	return []kgo.Opt{
		kgo.SeedBrokers(i.opts.Brokers...),
		kgo.ConsumerGroup(i.opts.Group),
		kgo.ConsumeTopics(i.opts.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	}
}

// Start connects and consumes until ctx is done or Stop is called.
func (i *Input) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client != nil {
		return fmt.Errorf("kafka input for %s already started", i.opts.Topic)
	}
	client, err := kgo.NewClient(i.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	i.client, i.cancel, i.done = client, cancel, make(chan struct{})

	go i.consumeLoop(ctx, client, i.done)
	i.logger.Info().Strs("brokers", i.opts.Brokers).Str("topic", i.opts.Topic).Str("group", i.opts.Group).Msg("kafka input started")
	return nil
}

func (i *Input) consumeLoop(ctx context.Context, client *kgo.Client, done chan<- struct{}) {
	defer close(done)
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			i.logger.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		handedOff := true
		fetches.EachRecord(func(rec *kgo.Record) {
			if !handedOff {
				return
			}
			if err := i.insert(ctx, rec.Value); err != nil {
				handedOff = false
			}
		})
		if !handedOff {
			return
		}
		if err := client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			i.logger.Error().Err(err).Msg("kafka commit failed")
		}
	}
}

// insert waits out a full buffer. Only cancellation stops it.
func (i *Input) insert(ctx context.Context, value []byte) error {
	for {
		err := i.buffer.Insert(ctx, value)
		if !errors.Is(err, inputs.ErrBufferFull) {
			if err != nil && ctx.Err() == nil {
				// the record is dropped; the pipeline already counted the failure
				i.logger.Warn().Err(err).Msg("kafka record rejected")
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fullBufferBackoff):
		}
	}
}

// Stop ends consumption and closes the client.
func (i *Input) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client == nil {
		return nil
	}
	i.cancel()
	<-i.done
	i.client.Close()
	i.client = nil
	return nil
}
