package domain

import "time"

// ParsedFeed is a fetched feed reduced to what delivery needs.
type ParsedFeed struct {
	Title   string
	Link    string
	Entries []Entry
}

// Entry is one feed item. Published is UTC with whole-second precision.
type Entry struct {
	Title     string
	Link      string
	Published time.Time
}
