package models

import "time"

// TimeSlot is an inclusive time range inside a day, both ends in zero-padded "HH:mm" notation
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Restrictions limit when a song may be requested
type Restrictions struct {
	// Weekdays the song may be requested on - 0 is Sunday, 6 is Saturday
	DaysOfWeek []int `json:"daysOfWeek,omitempty"`
	// Time ranges the song may be requested in
	TimeSlots []TimeSlot `json:"timeSlots,omitempty"`
}

// Song is a catalog entry of a performer
type Song struct {
	ID          string `json:"id"`
	PerformerID string `json:"performer"`
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	// Musical key, BPM, tags and language are display data only
	Key          string        `json:"key,omitempty"`
	BPM          uint          `json:"bpm,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Language     string        `json:"language,omitempty"`
	IsActive     bool          `json:"isActive"`
	IsAvailable  bool          `json:"isAvailable"`
	Restrictions *Restrictions `json:"restrictions,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}
