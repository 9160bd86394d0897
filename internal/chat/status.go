package chat

import "github.com/MegaGrindStone/assistant-web-ui/internal/models"

// Status is the assistant availability shown by the views.
type Status struct {
	Text  string
	Level Level
}

// Level classifies a Status.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

var (
	// StatusReady means the assistant answered the health check and is available.
	StatusReady = Status{Text: "Ready", Level: LevelSuccess}
	// StatusUnavailable means the endpoint is up but the assistant is not.
	StatusUnavailable = Status{Text: "Assistant Unavailable", Level: LevelWarning}
	// StatusOffline means the health check itself failed.
	StatusOffline = Status{Text: "Offline", Level: LevelDanger}
)

func statusFromHealth(health models.Health, err error) Status {
	switch {
	case err != nil:
		return StatusOffline
	case health.Healthy():
		return StatusReady
	default:
		return StatusUnavailable
	}
}
