// Package audiosplitter implements the fixed-size audio chunker: it slices
// each audio.output.raw frame into frames of exactly chunk-size bytes
// (the last frame carries the remainder), preserving order. Non-audio
// frames pass through unchanged.
package audiosplitter

import (
	"context"
	"fmt"

	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Config is the recognized init schema: either ChunkSize
// directly, or the four fields needed to derive it
// (SampleRate × Channels × SampleSizeBits/8 × DurationMs/1000).
type Config struct {
	ChunkSize int

	SampleRate     int
	Channels       int
	SampleSizeBits int
	DurationMs     int
}

func resolveChunkSize(args map[string]any) (int, error) {
	if v, ok := args["ChunkSize"]; ok {
		n, ok := v.(int)
		if !ok || n <= 0 {
			return 0, fmt.Errorf("audiosplitter: init: ChunkSize must be a positive int")
		}
		return n, nil
	}

	get := func(key string) (int, error) {
		v, ok := args[key]
		if !ok {
			return 0, fmt.Errorf("audiosplitter: init: missing %s (and no ChunkSize given)", key)
		}
		n, ok := v.(int)
		if !ok || n <= 0 {
			return 0, fmt.Errorf("audiosplitter: init: %s must be a positive int", key)
		}
		return n, nil
	}

	sampleRate, err := get("SampleRate")
	if err != nil {
		return 0, err
	}
	channels, err := get("Channels")
	if err != nil {
		return 0, err
	}
	bits, err := get("SampleSizeBits")
	if err != nil {
		return 0, err
	}
	durationMs, err := get("DurationMs")
	if err != nil {
		return 0, err
	}

	return sampleRate * channels * (bits / 8) * durationMs / 1000, nil
}

type data struct {
	chunkSize int
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the audio splitter processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
		Params: "ChunkSize int, or {SampleRate, Channels, SampleSizeBits, DurationMs} int",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	chunkSize, err := resolveChunkSize(args)
	if err != nil {
		return processor.State{}, err
	}
	return processor.State{Data: &data{chunkSize: chunkSize}}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, _ processor.Event) (processor.State, error) {
	return st, nil
}

func (Processor) Transform(st processor.State, _ string, f frame.Frame) (processor.State, processor.Outputs, error) {
	if f.Type != frame.AudioOutputRaw {
		return st, processor.Outputs{}.Add("out", f), nil
	}

	d := st.Data.(*data)
	p, ok := frame.AsAudio(f)
	if !ok {
		return st, processor.Outputs{}.Add("out", f), nil
	}

	var out processor.Outputs
	bytes := p.Bytes
	for len(bytes) > 0 {
		n := d.chunkSize
		if n > len(bytes) {
			n = len(bytes)
		}
		chunk := make([]byte, n)
		copy(chunk, bytes[:n])
		out = out.Add("out", frame.New(frame.AudioOutputRaw, frame.AudioPayload{Bytes: chunk}))
		bytes = bytes[n:]
	}
	return st, out, nil
}
