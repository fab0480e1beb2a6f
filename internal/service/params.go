package service

import "time"

// MaxLogLimit caps how many journal entries one request may return.
const MaxLogLimit = 1000

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From  time.Time // inclusive; zero means no lower bound
	To    time.Time // inclusive; zero means no upper bound
	Types []string  // any of models.EventTypes; empty means all
	Limit int       // newest N entries; 0 means no limit
}

// LogSummary counts journal entries per type over a time range.
type LogSummary struct {
	From   *time.Time     `json:"from,omitempty"`
	To     *time.Time     `json:"to,omitempty"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}
