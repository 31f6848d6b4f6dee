package types

import (
	"regexp"
	"strconv"
	"time"
)

// Alert levels reported by Zerto, plus the synthetic level used for removal notices
const (
	LevelWarning = "Warning"
	LevelError   = "Error"
	LevelRemoved = "Removed"
)

// Link is a Zerto resource reference
type Link struct {
	Href       string `json:"href"`
	Identifier string `json:"identifier"`
	Rel        string `json:"rel"`
	Type       string `json:"type"`
}

// Alert is one alert as reported by a ZVM at a point in time
type Alert struct {
	AffectedVpgs   []Link `json:"AffectedVpgs"`
	AffectedZorgs  []Link `json:"AffectedZorgs"`
	Description    string `json:"Description"`
	Entity         string `json:"Entity"`
	HelpIdentifier string `json:"HelpIdentifier"`
	IsDismissed    bool   `json:"IsDismissed"`
	Level          string `json:"Level"`
	Link           Link   `json:"Link"`
	Site           Link   `json:"Site"`
	TurnedOn       string `json:"TurnedOn"`
}

// ID returns the alert identifier, stable across repeated reports of the same condition
func (a *Alert) ID() string {
	if a == nil {
		return ""
	}
	return a.Link.Identifier
}

// Valid reports whether the alert can be tracked
func (a *Alert) Valid() bool {
	return a != nil && a.Link.Identifier != ""
}

// SameAs compares alerts by identifier only
func (a *Alert) SameAs(other *Alert) bool {
	if a == nil || other == nil {
		return false
	}
	return a.Link.Identifier == other.Link.Identifier
}

// Clone returns a deep copy that shares no slices with a
func (a *Alert) Clone() Alert {
	out := *a
	if a.AffectedVpgs != nil {
		out.AffectedVpgs = append([]Link(nil), a.AffectedVpgs...)
	}
	if a.AffectedZorgs != nil {
		out.AffectedZorgs = append([]Link(nil), a.AffectedZorgs...)
	}
	return out
}

var turnedOnPattern = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// TurnedOnTime parses the "/Date(1531938627284)/" timestamp Zerto uses.
// The second return value is false when the field is empty or malformed.
func (a *Alert) TurnedOnTime() (time.Time, bool) {
	m := turnedOnPattern.FindStringSubmatch(a.TurnedOn)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
