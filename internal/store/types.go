package store

// SearchHit is one full-text result: a node identifier and its relevance
// score (larger is better).
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
