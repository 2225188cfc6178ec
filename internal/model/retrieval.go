package model

// RetrievedChunk 是检索结果中的单个分块。
type RetrievedChunk struct {
	ID          string  `json:"id"`
	ChunkIndex  int     `json:"chunkIndex"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}

// RetrievalResult 是一次检索的完整结果。
// Chunks 按 score 降序排列，同分时按 chunkIndex 升序；ID 不重复。
type RetrievalResult struct {
	Query      string           `json:"query"`
	Chunks     []RetrievedChunk `json:"chunks"`
	TotalFound int              `json:"totalFound"`
	ElapsedMs  int64            `json:"elapsedMs"`
	FromCache  bool             `json:"fromCache"`
}
