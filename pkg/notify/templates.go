package notify

import (
	"fmt"
	"strings"
	"text/template"
)

// templateData is the rendering context for notification content.
type templateData struct {
	Topic string
}

// genericTopic is used when the meeting topic cannot be resolved.
const genericTopic = "your meeting"

var subjects = map[Event]string{
	EventBotJoined:       "Recap bot joined {{.Topic}}",
	EventTranscriptReady: "Transcript ready for {{.Topic}}",
	EventBotFailed:       "Recording failed for {{.Topic}}",
}

var bodies = map[Event]string{
	EventBotJoined: `The recap bot has joined {{.Topic}} and is capturing the conversation.

You will get another email when the transcript is ready.`,
	EventTranscriptReady: `The transcript for {{.Topic}} is ready.

Open your dashboard to read it, search it, or share it with your team.`,
	EventBotFailed: `Something went wrong while recording {{.Topic}}.

The bot could not finish capturing this meeting. You can retry from your dashboard.`,
}

// renderContent produces the subject and body for an event. Unknown events
// return an error; the dispatcher has already gated on known toggles by then.
func renderContent(event Event, topic string) (subject, body string, err error) {
	subjectTmpl, ok := subjects[event]
	if !ok {
		return "", "", fmt.Errorf("no template for event %q", event)
	}
	bodyTmpl := bodies[event]

	data := templateData{Topic: strings.TrimSpace(topic)}
	if data.Topic == "" {
		data.Topic = genericTopic
	}

	subject, err = render("subject", subjectTmpl, data)
	if err != nil {
		return "", "", err
	}
	body, err = render("body", bodyTmpl, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func render(name, text string, data templateData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return sb.String(), nil
}
