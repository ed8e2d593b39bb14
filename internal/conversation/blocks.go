package conversation

// Block is a contiguous run of turns that must be kept or dropped together:
// a lone turn, or an assistant tool-call turn followed by its tool turns.
type Block struct {
	Start int
	End   int // exclusive
}

func (b Block) Len() int { return b.End - b.Start }

// Blocks groups the history into atomic blocks. A tool turn that does not
// follow a tool-call turn forms its own (orphan) block.
func (h *History) Blocks() []Block {
	var blocks []Block
	for i := 0; i < len(h.turns); {
		end := i + 1
		if h.turns[i].IsToolCall() {
			for end < len(h.turns) && h.turns[end].Role == RoleTool {
				end++
			}
		}
		blocks = append(blocks, Block{Start: i, End: end})
		i = end
	}
	return blocks
}

// complete reports whether the block is either a non-tool lone turn or a
// tool-call turn whose results match its invocation ids exactly.
func (h *History) complete(b Block) bool {
	head := h.turns[b.Start]
	if head.Role == RoleTool {
		return false
	}
	if !head.IsToolCall() {
		return true
	}
	want := make(map[string]int, len(head.ToolCalls))
	for _, call := range head.ToolCalls {
		want[call.ID]++
	}
	got := make(map[string]int, b.Len()-1)
	for _, t := range h.turns[b.Start+1 : b.End] {
		got[t.ToolCallID]++
	}
	if len(want) != len(got) {
		return false
	}
	for id, n := range want {
		if got[id] != n || n != 1 {
			return false
		}
	}
	return true
}

func (h *History) keepBlocks(keep []Block) {
	out := make([]Turn, 0, len(h.turns))
	for _, b := range keep {
		out = append(out, h.turns[b.Start:b.End]...)
	}
	h.turns = out
}

// Trim drops the oldest non-head blocks while the history holds more than
// maxLen turns and more than minBlocks blocks remain. Returns dropped turns.
func (h *History) Trim(maxLen, minBlocks int) int {
	if minBlocks < 1 {
		minBlocks = 1
	}
	blocks := h.Blocks()
	total := len(h.turns)
	before := total
	for total > maxLen && len(blocks) > minBlocks && len(blocks) > 1 {
		total -= blocks[1].Len()
		blocks = append(blocks[:1], blocks[2:]...)
	}
	if total == before {
		return 0
	}
	h.keepBlocks(blocks)
	return before - total
}

// Repair removes every block whose tool results do not exactly match its
// invocations and every orphaned tool turn. Returns removed turns.
func (h *History) Repair() int {
	before := len(h.turns)
	var keep []Block
	for _, b := range h.Blocks() {
		if h.complete(b) {
			keep = append(keep, b)
		}
	}
	h.keepBlocks(keep)
	return before - len(h.turns)
}

// ShrinkHeadTail keeps the first head and last tail blocks. Used when the
// provider rejects the context as too large.
func (h *History) ShrinkHeadTail(head, tail int) int {
	blocks := h.Blocks()
	if len(blocks) <= head+tail {
		return 0
	}
	before := len(h.turns)
	keep := append([]Block{}, blocks[:head]...)
	keep = append(keep, blocks[len(blocks)-tail:]...)
	h.keepBlocks(keep)
	return before - len(h.turns)
}
