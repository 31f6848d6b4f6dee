package notifier

import (
	"time"

	"github.com/zertoslack/zertoslack/internal/types"
)

// Message is a Slack incoming-webhook payload
type Message struct {
	Attachments []Attachment `json:"attachments"`
}

// Attachment is a legacy Slack message attachment
type Attachment struct {
	Fallback string  `json:"fallback"`
	Color    string  `json:"color"`
	Title    string  `json:"title"`
	Text     string  `json:"text,omitempty"`
	Footer   string  `json:"footer,omitempty"`
	TS       int64   `json:"ts"`
	Fields   []Field `json:"fields,omitempty"`
}

// Field is one short key/value pair rendered inside an attachment
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// FormatMessage renders a change event as a Slack attachment. Removal wins
// over dismissal when choosing color and title.
func FormatMessage(evt types.ChangeEvent, hostname string, now time.Time) Message {
	a := evt.Alert
	label := evt.Source.String()

	color := levelColor(a.Level)
	title := "New alert on " + label
	switch {
	case evt.Removed():
		title = "Alert removed on " + label
	case a.IsDismissed:
		color = colorInfo
		title = "Alert dismissed on " + label
	}

	ts := now.Unix()
	if turnedOn, ok := a.TurnedOnTime(); ok {
		ts = turnedOn.Unix()
	}

	return Message{Attachments: []Attachment{{
		Fallback: title,
		Color:    color,
		Title:    title,
		Text:     a.Description,
		Footer:   hostname,
		TS:       ts,
		Fields: []Field{
			{Title: "Entity", Value: a.Entity, Short: true},
			{Title: "Id", Value: a.HelpIdentifier, Short: true},
		},
	}}}
}

func levelColor(level string) string {
	switch level {
	case types.LevelWarning:
		return colorWarning
	case types.LevelError:
		return colorError
	case types.LevelRemoved:
		return colorRemoved
	default:
		return colorInfo
	}
}
