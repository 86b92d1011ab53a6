package auth

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sirupsen/logrus"
)

// FileSink appends one JSON line per audit event
type FileSink struct {
	mu        sync.Mutex
	out       io.Writer
	closer    io.Closer
	formatter *logrus.JSONFormatter
	logger    *logrus.Logger
}

var _ AuditSink = (*FileSink)(nil)

// NewFileSink opens path in append mode, creating parent directories
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create audit log directory")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open audit log file")
	}
	sink := NewWriterSink(file)
	sink.closer = file
	return sink, nil
}

// NewWriterSink writes audit lines to w
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{
		out: w,
		formatter: &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "event",
			},
		},
		logger: logrus.New(),
	}
}

// Record implements AuditSink.
func (f *FileSink) Record(_ context.Context, event AuditEvent) error {
	fields := logrus.Fields{}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if event.SourceAddress != "" {
		fields["source"] = event.SourceAddress
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if len(event.Detail) > 0 {
		fields["detail"] = event.Detail
	}

	line, err := f.formatter.Format(&logrus.Entry{
		Logger:  f.logger,
		Data:    fields,
		Time:    event.OccurredAt.UTC(),
		Level:   logrus.InfoLevel,
		Message: string(event.Type),
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode audit event")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.out.Write(line); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write audit event")
	}
	return nil
}

// Close closes the underlying file when the sink owns it
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}
