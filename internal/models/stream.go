package models

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"llmgateway/internal/core"
	"llmgateway/internal/events"
	"llmgateway/internal/providers"
)

// Stream is a streamed completion in flight. It is pulled by one goroutine;
// Close may be called from another.
//
// Each upstream chunk is returned once, unchanged. Alongside, the stream
// emits LlmFirstToken on the first delta, LlmContent for every content
// fragment and, once the upstream ends, one ToolStart per stitched tool call,
// LlmStop and Cost. A failing upstream emits LlmError.
type Stream struct {
	ctx      context.Context
	inst     *Instance
	upstream providers.ChunkStream
	sender   events.Sender
	start    time.Time

	sawFirst bool
	content  strings.Builder
	calls    map[int]*core.ToolCall
	finish   string
	usage    *core.Usage

	done      bool
	err       error
	closeOnce sync.Once
}

func newStream(ctx context.Context, inst *Instance, upstream providers.ChunkStream, sender events.Sender, start time.Time) *Stream {
	return &Stream{
		ctx:      ctx,
		inst:     inst,
		upstream: upstream,
		sender:   sender,
		start:    start,
		calls:    make(map[int]*core.ToolCall),
	}
}

// Next returns the next chunk. It returns io.EOF once the upstream has ended,
// or the upstream's error. After either, every call returns the same error.
func (s *Stream) Next() (providers.Chunk, error) {
	if s.done {
		return providers.Chunk{}, s.terminal()
	}
	if s.upstream.Next() {
		chunk := s.upstream.Current()
		s.observe(chunk)
		return chunk, nil
	}

	s.done = true
	if err := s.upstream.Err(); err != nil {
		s.err = err
		s.inst.emit(s.ctx, s.sender, events.LlmError{Message: err.Error()})
		return providers.Chunk{}, err
	}
	s.finishEvents()
	return providers.Chunk{}, io.EOF
}

func (s *Stream) terminal() error {
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *Stream) observe(chunk providers.Chunk) {
	hasDelta := chunk.Content != "" || len(chunk.ToolCalls) > 0
	if hasDelta && !s.sawFirst {
		s.sawFirst = true
		s.inst.emit(s.ctx, s.sender, events.LlmFirstToken{TTFT: time.Since(s.start)})
	}
	if chunk.Content != "" {
		s.content.WriteString(chunk.Content)
		s.inst.emit(s.ctx, s.sender, events.LlmContent{Content: chunk.Content})
	}
	for pos, tc := range chunk.ToolCalls {
		s.mergeToolCall(pos, tc)
	}
	if chunk.FinishReason != "" {
		s.finish = chunk.FinishReason
	}
	if chunk.Usage != nil {
		u := *chunk.Usage
		s.usage = &u
	}
}

// mergeToolCall stitches tool call fragments by index. The first fragment of a
// call carries its id and name; later ones append to the arguments.
func (s *Stream) mergeToolCall(pos int, frag core.ToolCall) {
	idx := pos
	if frag.Index != nil {
		idx = *frag.Index
	}
	call, ok := s.calls[idx]
	if !ok {
		call = &core.ToolCall{}
		s.calls[idx] = call
	}
	if frag.ID != "" {
		call.ID = frag.ID
	}
	if frag.Type != "" {
		call.Type = frag.Type
	}
	if frag.Function.Name != "" {
		call.Function.Name = frag.Function.Name
	}
	call.Function.Arguments += frag.Function.Arguments
}

// ToolCalls returns the tool calls stitched so far, ordered by index.
func (s *Stream) ToolCalls() []core.ToolCall {
	indexes := make([]int, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]core.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *s.calls[idx])
	}
	return out
}

func (s *Stream) finishEvents() {
	for _, tc := range s.ToolCalls() {
		s.inst.toolStart(s.ctx, s.sender, tc)
	}
	s.inst.emit(s.ctx, s.sender, events.LlmStop{
		FinishReason: s.finish,
		Usage:        s.usage,
		Output:       s.content.String(),
	})
	if s.usage != nil {
		s.inst.emitCost(s.ctx, s.sender, *s.usage)
	}
}

// Close releases the upstream stream. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.upstream.Close()
	})
	return err
}
