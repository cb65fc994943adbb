// Package sentenceassembler implements the streaming sentence-boundary
// reassembly stage: it accumulates llm.text.chunk
// frames and eagerly emits one speak.frame per complete sentence, flushing
// any trailing partial sentence when the response ends. This lets
// downstream speech synthesis start on the first sentence well before the
// rest of the LLM response has streamed in.
package sentenceassembler

import (
	"context"
	"strings"

	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

type data struct {
	buf strings.Builder
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the sentence assembler processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
	}
}

func (Processor) Init(_ context.Context, _ map[string]any) (processor.State, error) {
	return processor.State{Data: &data{}}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, _ processor.Event) (processor.State, error) {
	return st, nil
}

func (Processor) Transform(st processor.State, _ string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	switch f.Type {
	case frame.LLMFullResponseStart:
		d.buf.Reset()
		return st, nil, nil

	case frame.LLMTextChunk:
		p, _ := frame.AsTextChunk(f)
		d.buf.WriteString(p.Text)

		var out processor.Outputs
		for {
			idx := firstSentenceBoundary(d.buf.String())
			if idx < 0 {
				break
			}
			s := d.buf.String()[:idx+1]
			rest := strings.TrimLeft(d.buf.String()[idx+1:], " \t\n\r")
			d.buf.Reset()
			d.buf.WriteString(rest)
			out = out.Add("out", frame.New(frame.SpeakFrame, frame.SpeakPayload{Text: s}))
		}
		return st, out, nil

	case frame.LLMFullResponseEnd:
		var out processor.Outputs
		if d.buf.Len() > 0 {
			out = out.Add("out", frame.New(frame.SpeakFrame, frame.SpeakPayload{Text: d.buf.String()}))
			d.buf.Reset()
		}
		return st, out, nil

	default:
		return st, nil, nil
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character immediately followed by whitespace, or -1 if none exists.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
