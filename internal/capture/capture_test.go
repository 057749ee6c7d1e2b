package capture_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/pkg/audio"
	"github.com/MrWong99/uplink/pkg/provider/live"
	"github.com/MrWong99/uplink/pkg/provider/live/mock"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type collector struct {
	mu     sync.Mutex
	chunks []live.MediaChunk
}

func (c *collector) Submit(chunk live.MediaChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *collector) all() []live.MediaChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.MediaChunk(nil), c.chunks...)
}

func tagged(i int) live.MediaChunk {
	return live.MediaChunk{MIMEType: live.MIMEAudioIn, Data: string(rune('a' + i))}
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Encoding ──────────────────────────────────────────────────────────────────

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	samples := make([]float32, audio.FrameSamples)
	samples[0] = 0.5
	samples[1] = -1
	samples[2] = 1 // wraps

	chunk := capture.EncodeFrame(samples)
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", chunk.MIMEType)
	}
	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 8192 {
		t.Fatalf("len = %d, want 8192", len(pcm))
	}
	want := []int16{16384, -32768, -32768, 0}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[i*2:])); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

func TestPipeline_FramesExactly4096Samples(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	p := capture.NewPipeline(sink, audio.CaptureRate)

	if n := p.Write(make([]float32, 3000)); n != 0 {
		t.Errorf("first write emitted %d frames, want 0", n)
	}
	if n := p.Write(make([]float32, 3000)); n != 1 {
		t.Errorf("second write emitted %d frames, want 1", n)
	}
	if n := p.Write(make([]float32, 2192+4096)); n != 2 {
		t.Errorf("third write emitted %d frames, want 2", n)
	}
	if p.Frames() != 3 {
		t.Errorf("Frames = %d, want 3", p.Frames())
	}
	for i, c := range sink.all() {
		pcm, _ := base64.StdEncoding.DecodeString(c.Data)
		if len(pcm) != 8192 {
			t.Errorf("frame %d has %d bytes, want 8192", i, len(pcm))
		}
	}
}

func TestPipeline_ResamplesToCaptureRate(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	p := capture.NewPipeline(sink, 48000)
	// 3 × 4096 samples at 48 kHz become exactly one 4096-sample frame at 16 kHz.
	if n := p.Write(make([]float32, 3*audio.FrameSamples)); n != 1 {
		t.Errorf("frames = %d, want 1", n)
	}
}

func TestPipeline_RunStopsWhenSourceCloses(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	p := capture.NewPipeline(sink, audio.CaptureRate)
	in := make(chan []float32, 2)
	in <- make([]float32, audio.FrameSamples)
	in <- make([]float32, audio.FrameSamples)
	close(in)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	if got := len(sink.all()); got != 2 {
		t.Errorf("chunks = %d, want 2", got)
	}
}

// ── Outbox ────────────────────────────────────────────────────────────────────

func TestOutbox_FastConnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := mock.NewSession()
	o := capture.NewOutbox(capture.DefaultQueueCapacity)
	o.Attach(sess)
	go o.Run(ctx)

	for i := range 5 {
		o.Submit(tagged(i))
	}
	waitFor(t, func() bool { return len(sess.Media()) == 5 })
	for i, c := range sess.Media() {
		if c != tagged(i) {
			t.Errorf("chunk %d = %+v, want %+v", i, c, tagged(i))
		}
	}
	if o.Sent() != 5 || o.Dropped() != 0 {
		t.Errorf("Sent/Dropped = %d/%d, want 5/0", o.Sent(), o.Dropped())
	}
}

func TestOutbox_SlowConnectFlushesInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := mock.NewSession()
	o := capture.NewOutbox(capture.DefaultQueueCapacity)
	go o.Run(ctx)

	for i := range 10 {
		o.Submit(tagged(i))
	}
	time.Sleep(20 * time.Millisecond)
	if len(sess.Media()) != 0 {
		t.Fatal("nothing may be sent before Attach")
	}
	if o.Len() != 10 {
		t.Fatalf("Len = %d, want 10", o.Len())
	}

	o.Attach(sess)
	o.Submit(tagged(10))

	waitFor(t, func() bool { return len(sess.Media()) == 11 })
	for i, c := range sess.Media() {
		if c != tagged(i) {
			t.Errorf("chunk %d = %+v, want %+v", i, c, tagged(i))
		}
	}
}

func TestOutbox_BoundedDropsOldest(t *testing.T) {
	t.Parallel()

	var dropped []live.MediaChunk
	o := capture.NewOutbox(3, capture.WithDropHook(func(c live.MediaChunk) { dropped = append(dropped, c) }))
	for i := range 5 {
		o.Submit(tagged(i))
	}
	if o.Len() != 3 {
		t.Errorf("Len = %d, want 3", o.Len())
	}
	if o.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", o.Dropped())
	}
	if len(dropped) != 2 || dropped[0] != tagged(0) || dropped[1] != tagged(1) {
		t.Errorf("dropped = %+v, want the two oldest", dropped)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := mock.NewSession()
	go o.Run(ctx)
	o.Attach(sess)
	waitFor(t, func() bool { return len(sess.Media()) == 3 })
	for i, c := range sess.Media() {
		if c != tagged(i+2) {
			t.Errorf("chunk %d = %+v, want %+v", i, c, tagged(i+2))
		}
	}
}

func TestOutbox_ZeroCapacityIsUnbounded(t *testing.T) {
	t.Parallel()

	o := capture.NewOutbox(0)
	for i := range 1000 {
		o.Submit(tagged(i % 26))
	}
	if o.Len() != 1000 || o.Dropped() != 0 {
		t.Errorf("Len/Dropped = %d/%d, want 1000/0", o.Len(), o.Dropped())
	}
}

func TestOutbox_SendErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := mock.NewSession()
	sess.SendMediaErr = errors.New("socket closed")

	var mu sync.Mutex
	var failures int
	o := capture.NewOutbox(10, capture.WithSendHook(func(_ live.MediaChunk, err error) {
		if err != nil {
			mu.Lock()
			failures++
			mu.Unlock()
		}
	}))
	o.Attach(sess)
	go o.Run(ctx)

	o.Submit(tagged(0))
	o.Submit(tagged(1))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures == 2
	})
	if o.Sent() != 0 {
		t.Errorf("Sent = %d, want 0", o.Sent())
	}
}

func TestOutbox_CloseStopsRunAndIgnoresSubmit(t *testing.T) {
	t.Parallel()

	o := capture.NewOutbox(10)
	done := make(chan struct{})
	go func() {
		o.Run(context.Background())
		close(done)
	}()
	o.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	o.Submit(tagged(0))
	if o.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", o.Len())
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		live.MIMEAudioIn:   "audio",
		live.MIMEJPEG:      "image",
		"application/json": "other",
	}
	for mime, want := range tests {
		if got := capture.Kind(live.MediaChunk{MIMEType: mime}); got != want {
			t.Errorf("Kind(%q) = %q, want %q", mime, got, want)
		}
	}
}

// ── Sources ───────────────────────────────────────────────────────────────────

func TestReaderSource_F32LE(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for i := range audio.FrameSamples + 10 {
		v := float32(0)
		if i == 0 {
			v = 0.25
		}
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}

	src := capture.NewReaderSource(&buf, capture.F32LE, 16000)
	ch, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	var blocks [][]float32
	for b := range ch {
		blocks = append(blocks, b)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if len(blocks[0]) != audio.FrameSamples || len(blocks[1]) != 10 {
		t.Errorf("block sizes = %d, %d", len(blocks[0]), len(blocks[1]))
	}
	if blocks[0][0] != 0.25 {
		t.Errorf("first sample = %v, want 0.25", blocks[0][0])
	}
	if src.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d", src.SampleRate())
	}
}

func TestReaderSource_S16LE(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, []int16{16384, -16384})
	src := capture.NewReaderSource(&buf, capture.S16LE, 16000)
	ch, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b := <-ch
	if len(b) != 2 || b[0] != 0.5 || b[1] != -0.5 {
		t.Errorf("block = %v, want [0.5 -0.5]", b)
	}
}

// A stream such as stdin outlives sessions: closing the source detaches the
// consumer without closing the reader, and the next Open reads on.
func TestReaderSource_ReopenReadsSameStream(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	src := capture.NewReaderSource(pr, capture.F32LE, 16000)

	first, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-first; ok {
		t.Error("first stream still open after Close")
	}

	second, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer src.Close()

	go func() {
		var buf bytes.Buffer
		for range audio.FrameSamples {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(0.5))
		}
		_, _ = pw.Write(buf.Bytes())
	}()

	select {
	case b, ok := <-second:
		if !ok {
			t.Fatal("second stream closed without data")
		}
		if len(b) != audio.FrameSamples || b[0] != 0.5 {
			t.Errorf("block len = %d first = %v, want %d samples of 0.5", len(b), b[0], audio.FrameSamples)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for block after reopen")
	}
}

func TestReaderSource_OpenAfterStreamEndFails(t *testing.T) {
	t.Parallel()

	src := capture.NewReaderSource(&bytes.Buffer{}, capture.F32LE, 16000)
	ch, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range ch {
	}
	if _, err := src.Open(context.Background()); !errors.Is(err, capture.ErrInputEnded) {
		t.Errorf("Open after EOF = %v, want ErrInputEnded", err)
	}
}

func TestReaderSource_ContextCancelDetaches(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	src := capture.NewReaderSource(pr, capture.S16LE, 16000)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received a block after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
	if _, err := src.Open(context.Background()); err != nil {
		t.Errorf("Open after cancel: %v", err)
	}
	_ = src.Close()
}

func TestReaderSource_InvalidFormat(t *testing.T) {
	t.Parallel()
	src := capture.NewReaderSource(&bytes.Buffer{}, "u8", 16000)
	if _, err := src.Open(context.Background()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileSource_MissingDevice(t *testing.T) {
	t.Parallel()
	src := capture.NewFileSource("/nonexistent/mic.raw", capture.F32LE, 16000)
	if _, err := src.Open(context.Background()); err == nil {
		t.Fatal("expected device acquisition error")
	}
}

func TestChannelSource(t *testing.T) {
	t.Parallel()

	src := capture.NewChannelSource(16000, 1)
	if err := src.Push([]float32{1}); !errors.Is(err, capture.ErrNotOpen) {
		t.Errorf("Push before Open = %v, want ErrNotOpen", err)
	}
	ch, err := src.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Push([]float32{0.1}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := src.Push([]float32{0.2}); err == nil {
		t.Error("Push into a full buffer should fail")
	}
	if b := <-ch; b[0] != 0.1 {
		t.Errorf("block = %v", b)
	}
	_ = src.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	_ = src.Close()
}
