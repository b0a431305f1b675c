package domain

import (
	"fmt"
	"time"
)

type MediaKind string

const (
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
	KindOther    MediaKind = "other"
)

// Key identifies one message inside one channel. It is the unit of work
// the tracker records.
type Key struct {
	ChannelID int64 `json:"channel_id"`
	MessageID int64 `json:"message_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ChannelID, k.MessageID)
}

// AudioMeta carries the audio attributes Telegram attaches to music files.
// All fields may be empty.
type AudioMeta struct {
	Title     string `json:"title,omitempty"`
	Performer string `json:"performer,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

// Media describes one document-bearing channel message. Derived once from
// the raw message and never mutated afterwards.
type Media struct {
	Key       Key
	Kind      MediaKind
	FileName  string
	Extension string // lowercase, with leading dot; "" when unknown
	Size      int64
	MimeType  string
	Date      time.Time // message timestamp, UTC
	Audio     *AudioMeta

	// Telegram document handle, needed to fetch the bytes later.
	DocumentID    int64
	AccessHash    int64
	FileReference []byte
}

func (m Media) HasAudioMeta() bool {
	return m.Audio != nil
}
