package store

import "time"

type Event struct {
	ID        int64
	Container string
	Status    string
	Message   string
	URL       string
	Hostname  string
	Timestamp time.Time
}
