package domain

// VideoState is the single shared playback cursor of a room. It is always
// replaced as a whole, never merged field by field at the relay.
type VideoState struct {
	Playing            bool    `json:"playing" redis:"playing"`
	Time               float64 `json:"time" redis:"time" validate:"gte=0"`
	Source             string  `json:"src" redis:"src"`
	IsEmbeddedPlatform bool    `json:"isYouTube" redis:"is_youtube"`
}

// DefaultVideoState is the state a freshly created room starts with.
func DefaultVideoState() VideoState {
	return VideoState{
		Playing:            false,
		Time:               0,
		Source:             "",
		IsEmbeddedPlatform: false,
	}
}
