package constant

type StreamStatus string

const (
	StreamStatusIdle      StreamStatus = "idle"
	StreamStatusRecording StreamStatus = "recording"
	StreamStatusStopped   StreamStatus = "stopped"
	StreamStatusError     StreamStatus = "error"
)

func (s StreamStatus) String() string {
	return string(s)
}

// Terminal reports whether the session lifecycle ends in this status.
// A restart never reactivates a terminal session, it creates a new one.
func (s StreamStatus) Terminal() bool {
	return s == StreamStatusStopped || s == StreamStatusError
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
