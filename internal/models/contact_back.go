package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Instant normalises t to the precision instants are persisted with. Every
// instant used as a join key between collections must pass through it.
func Instant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ContactBackEntry is one element of agent_contact_back.timestamps. Entries
// proposed from the contact-back flow are bare instants; entries appended by
// the appointment flow carry a topic and are stored as {timestamp, topic}.
type ContactBackEntry struct {
	Timestamp time.Time
	Topic     string
}

type contactBackMarker struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
}

func (e ContactBackEntry) MarshalJSON() ([]byte, error) {
	if e.Topic == "" {
		return json.Marshal(e.Timestamp)
	}
	return json.Marshal(contactBackMarker{Timestamp: e.Timestamp, Topic: e.Topic})
}

func (e *ContactBackEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var ts time.Time
		if err := json.Unmarshal(data, &ts); err != nil {
			return fmt.Errorf("contact-back timestamp: %w", err)
		}
		*e = ContactBackEntry{Timestamp: ts}
		return nil
	}

	var marker contactBackMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return fmt.Errorf("contact-back marker: %w", err)
	}
	*e = ContactBackEntry{Timestamp: marker.Timestamp, Topic: marker.Topic}
	return nil
}
