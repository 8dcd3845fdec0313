package ingest

// State is the stage an ingestion run is in. Runs move strictly forward
// through Fetching, Staging, Reconciling and Committing; Aborted is reachable
// from every state except Done.
type State int

const (
	Idle State = iota
	Fetching
	Staging
	Reconciling
	Committing
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Staging:
		return "staging"
	case Reconciling:
		return "reconciling"
	case Committing:
		return "committing"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}
