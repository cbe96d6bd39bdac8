package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Sink persists audit records. Append must not retain rec after returning.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// NoOpSink drops records.
type NoOpSink struct{}

func (NoOpSink) Append(context.Context, Record) error { return nil }

// ChannelSink writes records into a buffered channel.
type ChannelSink struct {
	records chan Record
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		records: make(chan Record, buffer),
	}
}

func (s *ChannelSink) Append(ctx context.Context, rec Record) error {
	select {
	case s.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Records() <-chan Record {
	return s.records
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Append(_ context.Context, rec Record) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// MultiSink appends to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, rec Record) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
