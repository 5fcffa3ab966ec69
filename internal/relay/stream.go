// ABOUTME: Opaque handle over an inbound upload byte stream.
// ABOUTME: Keeps the producer's request body alive until the consumer finishes.

package relay

import (
	"context"
	"io"
	"sync"
)

// UploadStream is the successful value of a file-request future. The reader
// is backed by the delivering HTTP request body, so the producer must not
// return until the consumer is done with it: the consumer reads Body and
// calls Finish, and the producer blocks in Wait until then.
type UploadStream struct {
	Filename string
	Length   int64
	Body     io.Reader

	once sync.Once
	done chan struct{}
	err  error
}

// NewUploadStream wraps body in a stream handle for filename.
func NewUploadStream(filename string, length int64, body io.Reader) *UploadStream {
	return &UploadStream{
		Filename: filename,
		Length:   length,
		Body:     body,
		done:     make(chan struct{}),
	}
}

// Finish signals that the consumer is done reading. A non-nil err tells the
// producer the transfer failed downstream. Subsequent calls are no-ops.
func (s *UploadStream) Finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Wait blocks until Finish is called or ctx expires, and returns the
// consumer's verdict.
func (s *UploadStream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
