package utils

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	pad := func(b []byte) []byte { return append(b, make([]byte, 16)...) }
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", pad([]byte{0xFF, 0xD8, 0xFF, 0xE0}), "jpeg"},
		{"png", pad([]byte{0x89, 'P', 'N', 'G'}), "png"},
		{"tiff little-endian", pad([]byte{0x49, 0x49, 0x2A, 0x00}), "tiff"},
		{"tiff big-endian", pad([]byte{0x4D, 0x4D, 0x00, 0x2A}), "tiff"},
		{"webp", pad([]byte("RIFF\x10\x00\x00\x00WEBP")), "webp"},
		{"gif", pad([]byte("GIF89a")), "gif"},
		{"bmp", pad([]byte("BM")), "bmp"},
		{"too short", []byte{0xFF, 0xD8}, "unknown"},
		{"garbage", pad([]byte{0x01, 0x02, 0x03, 0x04}), "unknown"},
	}
	for _, tc := range tests {
		if got := DetectFormat(tc.data); got != tc.want {
			t.Errorf("%s: DetectFormat = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDoublingPasses(t *testing.T) {
	tests := []struct {
		scale float64
		want  int
	}{
		{1.5, 1},
		{2, 1},
		{4, 2},
		{6.01, 3},
		{8, 3},
		{8.01, 4},
		{16, 4},
		{100, 7},
	}
	for _, tc := range tests {
		if got := DoublingPasses(tc.scale); got != tc.want {
			t.Errorf("DoublingPasses(%v) = %d, want %d", tc.scale, got, tc.want)
		}
	}
}

func TestCloneBytes_Independent(t *testing.T) {
	src := []byte{1, 2, 3}
	dup := CloneBytes(src)
	src[0] = 99
	if dup[0] != 1 {
		t.Fatalf("clone shares backing array with source")
	}
	if got := CloneBytes(nil); len(got) != 0 {
		t.Fatalf("CloneBytes(nil) = %v, want empty", got)
	}
}

func TestLimitedReader_Exceeds(t *testing.T) {
	lr := &LimitedReader{R: strings.NewReader("hello world"), Max: 5}
	_, err := ReadAllLimited(context.Background(), lr, 0)
	if !errors.Is(err, ErrReadLimitExceeded) {
		t.Fatalf("err = %v, want ErrReadLimitExceeded", err)
	}
}

func TestReadAllLimited(t *testing.T) {
	got, err := ReadAllLimited(context.Background(), strings.NewReader("abc"), 10)
	if err != nil {
		t.Fatalf("under limit: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q", got)
	}

	if _, err := ReadAllLimited(context.Background(), strings.NewReader("abcdef"), 3); !errors.Is(err, ErrReadLimitExceeded) {
		t.Fatalf("over limit: err = %v, want ErrReadLimitExceeded", err)
	}

	// max <= 0 means unlimited.
	if _, err := ReadAllLimited(context.Background(), strings.NewReader("abcdef"), 0); err != nil {
		t.Fatalf("unlimited: %v", err)
	}
}

func TestReadAllLimited_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadAllLimited(ctx, strings.NewReader("abc"), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type recordingWriter struct {
	buf    bytes.Buffer
	writes []int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, len(p))
	return w.buf.Write(p)
}

func TestChunkedWriter(t *testing.T) {
	rec := &recordingWriter{}
	cw := &ChunkedWriter{W: rec, ChunkSize: 4}

	n, err := cw.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = %d, %v; want 10, nil", n, err)
	}
	if rec.buf.String() != "0123456789" {
		t.Fatalf("content = %q", rec.buf.String())
	}
	want := []int{4, 4, 2}
	if len(rec.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", rec.writes, want)
	}
	for i := range want {
		if rec.writes[i] != want[i] {
			t.Fatalf("writes = %v, want %v", rec.writes, want)
		}
	}
}

func TestChunkedWriter_NoChunkSize(t *testing.T) {
	rec := &recordingWriter{}
	cw := &ChunkedWriter{W: rec}

	n, err := cw.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v; want 6, nil", n, err)
	}
	if len(rec.writes) != 1 {
		t.Fatalf("zero chunk size should pass writes through, got %v", rec.writes)
	}
}
