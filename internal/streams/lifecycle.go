package streams

import "github.com/aura-webinar/livestream/internal/models"

// Event drives a stream lifecycle transition.
type Event string

const (
	EventIngestStarted Event = "ingest_started"
	EventIngestStopped Event = "ingest_stopped"
	EventCancel        Event = "cancel"
	// EventCreated is only reported to change hooks; it is not a transition.
	EventCreated Event = "created"
)

var lifecycle = map[models.StreamStatus]map[Event]models.StreamStatus{
	models.StreamStatusScheduled: {
		EventIngestStarted: models.StreamStatusLive,
		EventCancel:        models.StreamStatusCancelled,
	},
	models.StreamStatusLive: {
		EventIngestStopped: models.StreamStatusEnded,
	},
}

// NextStatus returns the status reached by applying ev to from.
func NextStatus(from models.StreamStatus, ev Event) (models.StreamStatus, bool) {
	to, ok := lifecycle[from][ev]
	return to, ok
}
