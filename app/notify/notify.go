// Package notify delivers email notifications for desk lifecycle events,
// task completion and task expiry. Delivery failures are logged and never
// break the task lifecycle.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

// EmailParams holds everything needed to make an email notifier
type EmailParams struct {
	Host     string // SMTP host
	Port     int    // SMTP port
	TLS      bool
	StartTLS bool
	Username string
	Password string
	TimeOut  time.Duration

	From string
	To   []string

	OnCompletion bool // send on task completion
	OnExpiry     bool // send on task expiry
	HostName     string
}

// Email sends desk event notifications over smtp. Implements
// desk.EventHandler, safe to pass as nil-valued interface when disabled.
type Email struct {
	EmailParams
	sender *notify.Email
}

// NewEmail makes an email notifier with prepared smtp parameters
func NewEmail(p EmailParams) *Email {
	if p.TimeOut == 0 {
		p.TimeOut = 10 * time.Second
	}
	sender := notify.NewEmail(notify.SMTPParams{
		Host:        p.Host,
		Port:        p.Port,
		TLS:         p.TLS,
		StartTLS:    p.StartTLS,
		Username:    p.Username,
		Password:    p.Password,
		TimeOut:     p.TimeOut,
		ContentType: "text/html",
	})
	return &Email{EmailParams: p, sender: sender}
}

// OnTaskCompleted implements desk.EventHandler
func (e *Email) OnTaskCompleted(taskID string, results int) {
	if !e.OnCompletion {
		return
	}
	subj := fmt.Sprintf("task %s completed on %s", taskID, e.HostName)
	msg, err := makeCompletionHTML(taskID, e.HostName, results)
	if err != nil {
		log.Printf("[WARN] can't make completion message for %s: %v", taskID, err)
		return
	}
	e.send(subj, msg)
}

// OnTaskExpired implements desk.EventHandler
func (e *Email) OnTaskExpired(taskID string) {
	if !e.OnExpiry {
		return
	}
	subj := fmt.Sprintf("task %s expired on %s", taskID, e.HostName)
	msg, err := makeExpiryHTML(taskID, e.HostName)
	if err != nil {
		log.Printf("[WARN] can't make expiry message for %s: %v", taskID, err)
		return
	}
	e.send(subj, msg)
}

func (e *Email) send(subj, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.TimeOut)
	defer cancel()

	dest := fmt.Sprintf("mailto:%s?from=%s&subject=%s",
		strings.Join(e.To, ","), e.From, url.QueryEscape(subj))
	if err := e.sender.Send(ctx, dest, text); err != nil {
		log.Printf("[WARN] failed to send notification %q: %v", subj, err)
		return
	}
	log.Printf("[DEBUG] sent %q to %+v", subj, e.To)
}

func (e *Email) String() string {
	return fmt.Sprintf("email notifier to %+v, completion:%v, expiry:%v", e.To, e.OnCompletion, e.OnExpiry)
}

var completionTmpl = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html>
	<body style="font-family: Arial; font-size: 1.0em;">
		<p>Redaction task completed on <b>{{.Host}}</b> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Task: <b>{{.TaskID}}</b></li>
			<li>Documents: <b>{{.Results}}</b></li>
		</ul>
		<p>The results are ready for review and export.</p>
	</body>
</html>
`))

var expiryTmpl = template.Must(template.New("expiry").Parse(`<!DOCTYPE html>
<html>
	<body style="font-family: Arial; font-size: 1.0em;">
		<p>Redaction task expired on <b>{{.Host}}</b> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Task: <b>{{.TaskID}}</b></li>
		</ul>
		<p>The backend no longer knows this task; its local state was purged.</p>
	</body>
</html>
`))

func makeCompletionHTML(taskID, host string, results int) (string, error) {
	data := struct {
		TaskID  string
		Host    string
		Results int
		TS      time.Time
	}{TaskID: taskID, Host: host, Results: results, TS: time.Now()}

	buf := bytes.Buffer{}
	if err := completionTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("can't execute completion template: %w", err)
	}
	return buf.String(), nil
}

func makeExpiryHTML(taskID, host string) (string, error) {
	data := struct {
		TaskID string
		Host   string
		TS     time.Time
	}{TaskID: taskID, Host: host, TS: time.Now()}

	buf := bytes.Buffer{}
	if err := expiryTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("can't execute expiry template: %w", err)
	}
	return buf.String(), nil
}
