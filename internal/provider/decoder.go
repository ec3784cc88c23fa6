package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// decodeStream converts the raw SSE stream into typed chunks. Tool input
// arrives as partial JSON fragments and is assembled so ToolUse chunks
// always carry complete arguments. Unknown event kinds are skipped.
func decodeStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk) {
	var currentTool *ToolUse
	var toolInput strings.Builder
	var thinking strings.Builder
	inThinking := false
	emptyEvents := 0

	var inputTokens, outputTokens int

	send := func(c *Chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				thinking.Reset()
				if !send(&Chunk{ThinkingStart: true}) {
					return
				}
				processed = true
			case "tool_use":
				toolUse := block.AsToolUse()
				currentTool = &ToolUse{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(&Chunk{Text: delta.Text}) {
						return
					}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					thinking.WriteString(delta.Thinking)
					if !send(&Chunk{Thinking: delta.Thinking}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				if !send(&Chunk{ThinkingDone: true, ThinkingSummary: thinking.String()}) {
					return
				}
				processed = true
			} else if currentTool != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				if !send(&Chunk{ToolUse: currentTool}) {
					return
				}
				currentTool = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			send(&Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return

		case "error":
			send(&Chunk{Error: ClassifyError(errors.New("stream error event"))})
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				send(&Chunk{Error: fmt.Errorf("%w: %d consecutive empty stream events", ErrModelTransient, emptyEvents)})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(&Chunk{Error: ClassifyError(err)})
		return
	}

	// The stream ended without message_stop; treat as transient so the
	// caller can retry.
	send(&Chunk{Error: fmt.Errorf("%w: stream ended before message_stop", ErrModelTransient)})
}
