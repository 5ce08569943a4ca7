package model

// TopicScore is the per-topic slice of a session result.
type TopicScore struct {
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

// Result is the terminal outcome of a session. It is derived data:
// recomputable at any time from the assigned questions and the collected
// answers, and persisted once as part of the terminal session record.
type Result struct {
	Accuracy         float64               `json:"accuracy"`
	CorrectCount     int                   `json:"correct_count"`
	TotalCount       int                   `json:"total_count"`
	TimeSpentSeconds int                   `json:"time_spent_seconds"`
	TopicBreakdown   map[string]TopicScore `json:"topic_breakdown"`
}
