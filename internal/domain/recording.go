package domain

import "time"

type RecordingID string

// Recording is a descriptor of a collaborative recording in a room.
// Playing and Volume are presentation state relayed between members;
// the audio itself never passes through the sync core.
type Recording struct {
	ID        RecordingID `json:"id"`
	Filename  string      `json:"filename"`
	Duration  int         `json:"duration,omitempty"`
	CreatedBy UserID      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	Playing   bool        `json:"playing"`
	Volume    float64     `json:"volume"`
}
