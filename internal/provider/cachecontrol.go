package provider

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// maxCacheBreakpoints is the provider's limit on ephemeral cache markers
// per request.
const maxCacheBreakpoints = 4

// AnnotateCacheControl places up to four ephemeral cache breakpoints on the
// serialized request, favoring stable prefixes:
//
//  1. the last message,
//  2. the message before the last user message,
//  3. the message before the second-to-last user message,
//  4. the last system block.
//
// A message is marked on its first non-empty unmarked text block; messages
// with no eligible text block are left alone. The caller owns the params
// and they are freshly built per request, so mutation here never touches
// stored history.
func AnnotateCacheControl(messages []anthropic.MessageParam, system []anthropic.TextBlockParam) {
	marks := 0
	marked := make(map[int]bool)

	markMessage := func(idx int) {
		if marks >= maxCacheBreakpoints || idx < 0 || idx >= len(messages) || marked[idx] {
			return
		}
		if markFirstText(messages[idx].Content) {
			marked[idx] = true
			marks++
		}
	}

	markMessage(len(messages) - 1)

	userIdxs := userIndices(messages)
	if n := len(userIdxs); n > 0 {
		markMessage(userIdxs[n-1] - 1)
		if n > 1 {
			markMessage(userIdxs[n-2] - 1)
		}
	}

	if marks < maxCacheBreakpoints {
		for i := len(system) - 1; i >= 0; i-- {
			blk := &system[i]
			if blk.Text == "" {
				continue
			}
			if blk.CacheControl.Type == "" {
				blk.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			break
		}
	}
}

func userIndices(messages []anthropic.MessageParam) []int {
	var idxs []int
	for i, m := range messages {
		if m.Role == anthropic.MessageParamRoleUser {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// markFirstText marks the first non-empty text block that carries no
// existing marker. Returns false when the message has no eligible block.
func markFirstText(blocks []anthropic.ContentBlockParamUnion) bool {
	for i := range blocks {
		text := blocks[i].OfText
		if text == nil || text.Text == "" {
			continue
		}
		if text.CacheControl.Type != "" {
			continue
		}
		text.CacheControl = anthropic.NewCacheControlEphemeralParam()
		return true
	}
	return false
}
