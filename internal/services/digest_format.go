package services

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"
	texttemplate "text/template"
	"time"
)

const periodDateLayout = "Jan 2, 2006"

// DigestContent is the rendered form of a digest.
type DigestContent struct {
	Title string
	Text  string
	HTML  string
}

// DigestTitle renders the digest subject line.
func DigestTitle(count int, start, end, now time.Time) string {
	noun := "notifications"
	if count == 1 {
		noun = "notification"
	}
	return fmt.Sprintf("Your Notification Digest - %d new %s %s", count, noun, PeriodPhrase(start, end, now))
}

// PeriodPhrase describes a window relative to now: "today", "yesterday", "in the last 24
// hours", "in the last N days", or an explicit date range.
func PeriodPhrase(start, end, now time.Time) string {
	loc := now.Location()
	start, end = start.In(loc), end.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	endsNow := !end.Before(now.Add(-time.Minute))

	switch {
	case endsNow && !start.Before(midnight):
		return "today"
	case !start.Before(midnight.AddDate(0, 0, -1)) && !end.After(midnight):
		return "yesterday"
	case endsNow && end.Sub(start) <= 24*time.Hour:
		return "in the last 24 hours"
	case endsNow:
		days := int(math.Ceil(end.Sub(start).Hours() / 24))
		return fmt.Sprintf("in the last %d days", days)
	default:
		return fmt.Sprintf("from %s to %s", start.Format(periodDateLayout), end.Format(periodDateLayout))
	}
}

type digestView struct {
	Title  string
	Period string
	Total  int
	Groups []TypeGroup
	Items  []DigestItem
}

var digestFuncs = map[string]any{
	"label": typeLabel,
	"more": func(g TypeGroup) int {
		return g.Count - len(g.Notifications)
	},
}

var digestTextTemplate = texttemplate.Must(texttemplate.New("digest.txt").Funcs(digestFuncs).Parse(
	`{{.Title}}
{{range .Groups}}
{{label .Type}} ({{.Count}})
{{range .Notifications}}  - {{.Title}}{{if .Message}}: {{.Message}}{{end}}
{{end}}{{with more .}}  ... and {{.}} more
{{end}}{{end}}{{range .Items}}- {{.Title}}{{if .Message}}: {{.Message}}{{end}}
{{end}}`))

var digestHTMLTemplate = template.Must(template.New("digest.html").Funcs(digestFuncs).Parse(
	`<!DOCTYPE html>
<html><body>
<h1>{{.Title}}</h1>
<p>You have {{.Total}} new notification{{if ne .Total 1}}s{{end}} {{.Period}}.</p>
{{range .Groups}}<h2>{{label .Type}} <small>({{.Count}})</small></h2>
<ul>{{range .Notifications}}<li><strong>{{.Title}}</strong>{{if .Message}} - {{.Message}}{{end}}</li>{{end}}</ul>
{{with more .}}<p>and {{.}} more</p>{{end}}
{{end}}{{if .Items}}<ul>{{range .Items}}<li><strong>{{.Title}}</strong>{{if .Message}} - {{.Message}}{{end}}</li>{{end}}</ul>{{end}}
</body></html>`))

// RenderDigest renders title, plain text and HTML bodies for a digest payload.
func RenderDigest(payload *DigestPayload, now time.Time) (DigestContent, error) {
	view := digestView{
		Title:  DigestTitle(payload.TotalNotifications, payload.Period.Start, payload.Period.End, now),
		Period: PeriodPhrase(payload.Period.Start, payload.Period.End, now),
		Total:  payload.TotalNotifications,
		Groups: payload.NotificationsByType,
		Items:  payload.Notifications,
	}

	var text, html bytes.Buffer
	if err := digestTextTemplate.Execute(&text, view); err != nil {
		return DigestContent{}, fmt.Errorf("render digest text: %w", err)
	}
	if err := digestHTMLTemplate.Execute(&html, view); err != nil {
		return DigestContent{}, fmt.Errorf("render digest html: %w", err)
	}
	return DigestContent{Title: view.Title, Text: text.String(), HTML: html.String()}, nil
}

// typeLabel turns "donation_received" into "Donation received".
func typeLabel(kind string) string {
	label := strings.TrimSpace(strings.ReplaceAll(kind, "_", " "))
	if label == "" {
		return "Other"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
