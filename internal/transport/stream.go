package transport

import (
	"bufio"
	"bytes"
	"io"
)

// ReaderStream adapts any reader into a Stream, e.g. a snapshot or a
// transaction replayed locally.
type ReaderStream struct {
	br *bufio.Reader
}

// NewReaderStream wraps r.
func NewReaderStream(r io.Reader) *ReaderStream {
	return &ReaderStream{br: bufio.NewReader(r)}
}

// NewBufferStream reads from an in-memory byte slice.
func NewBufferStream(b []byte) *ReaderStream {
	return NewReaderStream(bytes.NewReader(b))
}

func (s *ReaderStream) Read(p []byte) (int, error) { return s.br.Read(p) }

// Discard drops everything left to read. A plain stream has no frame
// boundaries, so the rest of the current frame is the rest of the stream.
func (s *ReaderStream) Discard() {
	io.Copy(io.Discard, s.br)
}

func (s *ReaderStream) IsEmpty() bool {
	_, err := s.br.Peek(1)
	return err != nil
}
