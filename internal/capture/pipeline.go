package capture

import (
	"context"
	"encoding/base64"

	"github.com/MrWong99/uplink/pkg/audio"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// frameBytes is the size of one PCM16 capture frame.
const frameBytes = audio.FrameSamples * 2

// EncodeFrame converts float samples to a base64 PCM16 chunk tagged
// audio/pcm;rate=16000.
func EncodeFrame(samples []float32) live.MediaChunk {
	return encodePCM(audio.FloatToPCM16(samples))
}

func encodePCM(pcm []byte) live.MediaChunk {
	return live.MediaChunk{
		MIMEType: live.MIMEAudioIn,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// Pipeline frames arbitrary sample blocks into 4096-sample 16 kHz frames and
// submits one chunk per frame. It is not safe for concurrent use; run a
// single producer per Pipeline.
type Pipeline struct {
	sink       Submitter
	sourceRate int
	pending    []byte
	frames     uint64
}

// NewPipeline creates a Pipeline for samples arriving at sourceRate Hz. Other
// rates than 16 kHz are resampled linearly per block.
func NewPipeline(sink Submitter, sourceRate int) *Pipeline {
	if sourceRate <= 0 {
		sourceRate = audio.CaptureRate
	}
	return &Pipeline{sink: sink, sourceRate: sourceRate}
}

// Write consumes samples and returns the number of frames submitted.
func (p *Pipeline) Write(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}
	pcm := audio.FloatToPCM16(samples)
	pcm = audio.ResampleMono16(pcm, p.sourceRate, audio.CaptureRate)
	p.pending = append(p.pending, pcm...)

	n := 0
	for len(p.pending) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, p.pending[:frameBytes])
		p.pending = p.pending[frameBytes:]
		p.sink.Submit(encodePCM(frame))
		n++
	}
	// Compact so the backing array does not grow without bound.
	if len(p.pending) == 0 {
		p.pending = p.pending[:0:0]
	}
	p.frames += uint64(n)
	return n
}

// Frames returns the number of frames submitted so far.
func (p *Pipeline) Frames() uint64 { return p.frames }

// Run feeds every block from in into Write until in is closed or ctx ends.
// A trailing partial frame is discarded.
func (p *Pipeline) Run(ctx context.Context, in <-chan []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-in:
			if !ok {
				return
			}
			p.Write(block)
		}
	}
}
