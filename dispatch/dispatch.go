// Package dispatch turns change events and findings into alert messages.
//
// The composer enforces the one-message-per-category rule: however many
// findings a cycle produced in one category, they are joined into a single
// alert body, so a noisy host cannot fan out into a flood of notifications.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/hostwatch/baseline"
	"github.com/hazyhaar/hostwatch/idgen"
	"github.com/hazyhaar/hostwatch/suspect"
	"github.com/hazyhaar/hostwatch/threshold"
)

// Type classifies an alert message.
type Type string

const (
	TypeLogin      Type = "login"
	TypeActivity   Type = "activity" // new processes / USB devices
	TypeSuspicious Type = "suspicious"
	TypeThreshold  Type = "threshold"
	TypeReport     Type = "report"
)

// Alert is the unit handed to the notification router.
type Alert struct {
	ID        string
	Type      Type
	Body      string
	Timestamp time.Time
}

// Render returns the full message text as delivered to channels: a short
// header line naming the alert type and time, then the body.
func (a Alert) Render() string {
	return fmt.Sprintf("[hostwatch] %s %s\n%s",
		strings.ToUpper(string(a.Type)),
		a.Timestamp.Format(time.RFC3339),
		a.Body)
}

// Options gates which alert categories are actually produced. The zero
// value disables login and suspicious alerts; the config layer defaults
// both to enabled. Scheduled report, activity and threshold alerts are
// always on.
type Options struct {
	ReportOnLogin      bool
	ReportOnSuspicious bool
}

// Composer builds alerts. Safe for use from concurrent cycles: it holds no
// mutable state beyond the ID generator.
type Composer struct {
	opts  Options
	newID idgen.Generator
	now   func() time.Time
}

// NewComposer creates a Composer.
func NewComposer(opts Options) *Composer {
	return &Composer{
		opts:  opts,
		newID: idgen.Prefixed("alr_", idgen.Default),
		now:   time.Now,
	}
}

// Compose maps one cycle's changes and findings to at most three alerts:
// one activity, one suspicious, one threshold. Empty categories produce
// nothing; categories disabled by Options are dropped here rather than at
// the router, so they never reach the audit log either.
func (c *Composer) Compose(changes []baseline.Change, findings []suspect.Finding, breaches []threshold.Breach) []Alert {
	var alerts []Alert

	if len(changes) > 0 {
		lines := make([]string, 0, len(changes))
		for _, ch := range changes {
			switch ch.Kind {
			case baseline.NewProcess:
				lines = append(lines, "new process: "+ch.Process)
			case baseline.NewDevice:
				lines = append(lines, fmt.Sprintf("new USB device: %s (%s)", ch.Device.Name, ch.Device.ID()))
			}
		}
		alerts = append(alerts, c.alert(TypeActivity, strings.Join(lines, "\n")))
	}

	if c.opts.ReportOnSuspicious && len(findings) > 0 {
		lines := make([]string, 0, len(findings))
		for _, f := range findings {
			lines = append(lines, f.Message)
		}
		alerts = append(alerts, c.alert(TypeSuspicious, strings.Join(lines, "\n")))
	}

	if len(breaches) > 0 {
		lines := make([]string, 0, len(breaches))
		for _, b := range breaches {
			lines = append(lines, b.Message)
		}
		alerts = append(alerts, c.alert(TypeThreshold, strings.Join(lines, "\n")))
	}

	return alerts
}

// Login builds the alert for a detected session-count increase. The newest
// session's record is the event identity. Returns ok=false when login
// alerts are disabled.
func (c *Composer) Login(user, tty, host string, increase int) (Alert, bool) {
	if !c.opts.ReportOnLogin {
		return Alert{}, false
	}
	body := fmt.Sprintf("new login: %s on %s", user, tty)
	if host != "" {
		body += " from " + host
	}
	if increase > 1 {
		body += fmt.Sprintf(" (+%d sessions)", increase)
	}
	return c.alert(TypeLogin, body), true
}

// Report wraps a rendered full report into an alert.
func (c *Composer) Report(body string) Alert {
	return c.alert(TypeReport, body)
}

func (c *Composer) alert(t Type, body string) Alert {
	return Alert{
		ID:        c.newID(),
		Type:      t,
		Body:      body,
		Timestamp: c.now(),
	}
}
