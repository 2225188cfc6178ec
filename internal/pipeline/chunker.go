package pipeline

import "strings"

// defaultSeparators 从粗到细的分隔符优先级：段落、换行、中英文句末标点、空格、逐字符。
var defaultSeparators = []string{"\n\n", "\n", "。", "！", "？", ". ", "! ", "? ", " ", ""}

// Chunker 将长文本切分为带重叠的有序分块。
// 按分隔符优先级迭代下钻（显式栈，不用递归），再把细粒度片段合并到目标大小。
type Chunker struct {
	chunkSize    int // 目标分块大小（rune 数）
	chunkOverlap int // 相邻分块重叠（rune 数）
	separators   []string
}

// NewChunker 创建一个 Chunker。overlap >= size 时回退为 size/5。
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap, separators: defaultSeparators}
}

// Split 将文本切分为有序分块。空白文本返回 nil。
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.mergePieces(c.splitBySeparators(text))
}

type splitFrame struct {
	text   string
	sepIdx int
}

// splitBySeparators 把文本拆成都不超过 chunkSize 的片段，分隔符保留在片段尾部。
// 用显式栈做深度优先下钻，避免大文本上的深递归。
func (c *Chunker) splitBySeparators(text string) []string {
	var pieces []string
	stack := []splitFrame{{text: text, sepIdx: 0}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len([]rune(frame.text)) <= c.chunkSize {
			if frame.text != "" {
				pieces = append(pieces, frame.text)
			}
			continue
		}

		// 分隔符用尽后按固定窗口硬切
		if frame.sepIdx >= len(c.separators) || c.separators[frame.sepIdx] == "" {
			pieces = append(pieces, c.hardSplit(frame.text)...)
			continue
		}

		sep := c.separators[frame.sepIdx]
		parts := strings.SplitAfter(frame.text, sep)
		if len(parts) == 1 {
			// 当前分隔符切不开，下钻到更细一级
			stack = append(stack, splitFrame{text: frame.text, sepIdx: frame.sepIdx + 1})
			continue
		}
		// 逆序入栈保证出栈顺序与原文一致
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i] == "" {
				continue
			}
			stack = append(stack, splitFrame{text: parts[i], sepIdx: frame.sepIdx + 1})
		}
	}
	return pieces
}

// hardSplit 对没有任何分隔符的长文本按滑动窗口切分，窗口间保留重叠。
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.chunkSize - c.chunkOverlap
	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// mergePieces 把细粒度片段合并为接近 chunkSize 的分块。
// 产出一个分块后，保留累计不超过 chunkOverlap 的尾部片段作为下一块的开头。
func (c *Chunker) mergePieces(pieces []string) []string {
	var chunks []string
	var current []string
	total := 0

	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if total+pieceLen > c.chunkSize && total > 0 {
			if chunk := strings.Join(current, ""); strings.TrimSpace(chunk) != "" {
				chunks = append(chunks, chunk)
			}
			// 从头部丢弃片段，直到剩余部分放得进重叠窗口
			for total > c.chunkOverlap || (total+pieceLen > c.chunkSize && total > 0) {
				total -= len([]rune(current[0]))
				current = current[1:]
				if len(current) == 0 {
					break
				}
			}
		}
		current = append(current, piece)
		total += pieceLen
	}

	if len(current) > 0 {
		if chunk := strings.Join(current, ""); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
