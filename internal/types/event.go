package types

// Event kinds, derived from the alert carried by a ChangeEvent
const (
	KindNew       = "new"
	KindDismissed = "dismissed"
	KindRemoved   = "removed"
)

// ChangeEvent pairs a source with one alert and represents a single
// state transition. The alert is a detached copy owned by the event.
type ChangeEvent struct {
	Source *Source
	Alert  Alert
}

// Removed reports whether the event is a removal notice
func (e ChangeEvent) Removed() bool {
	return e.Alert.Level == LevelRemoved
}

// Kind classifies the event for metrics and downstream routing
func (e ChangeEvent) Kind() string {
	switch {
	case e.Removed():
		return KindRemoved
	case e.Alert.IsDismissed:
		return KindDismissed
	default:
		return KindNew
	}
}
