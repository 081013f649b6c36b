package dreaming

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

// DigestSubject is the fixed subject line of the daily moment digest
const DigestSubject = "Your Daily Moments"

// EmailSender dispatches one HTML message
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// NoopSender drops messages; used when email is disabled
type NoopSender struct {
	logger observability.Logger
}

// NewNoopSender builds a sender that only logs
func NewNoopSender(logger observability.Logger) *NoopSender {
	if logger == nil {
		logger = observability.NewStandardLogger("dreaming.email")
	}
	return &NoopSender{logger: logger}
}

// Send implements EmailSender
func (s *NoopSender) Send(_ context.Context, to, subject, _ string) error {
	s.logger.Info("email disabled, digest dropped", map[string]interface{}{
		"to":      to,
		"subject": subject,
	})
	return nil
}

// SMTPSender sends through an external SMTP relay
type SMTPSender struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

// Send implements EmailSender
func (s *SMTPSender) Send(_ context.Context, to, subject, htmlBody string) error {
	msg := bytes.Buffer{}
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)

	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{to}, msg.Bytes()); err != nil {
		return commonerrors.New("dreaming", "Send", commonerrors.KindDependency, err).
			WithContext("to", to)
	}
	return nil
}

var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
<h2>{{.Subject}}</h2>
<p>{{.Date}}</p>
{{range .Moments}}<div style="margin-bottom: 16px;">
<h3>{{.Name}}</h3>
{{if .When}}<p style="color: #666;">{{.When}}{{if .Location}} &middot; {{.Location}}{{end}}</p>{{end}}
<p>{{.Body}}</p>
</div>
{{else}}<p>No new moments today.</p>
{{end}}</body>
</html>
`))

type digestMoment struct {
	Name     string
	When     string
	Location string
	Body     string
}

type digestData struct {
	Subject string
	Date    string
	Moments []digestMoment
}

// RenderDigest renders the daily digest body from the moments created in
// this invocation
func RenderDigest(moments []*models.Moment, now time.Time) (string, error) {
	data := digestData{
		Subject: DigestSubject,
		Date:    now.Format("Monday, January 2, 2006"),
	}
	for _, m := range moments {
		entry := digestMoment{
			Name:     m.Name,
			Location: m.Location,
			Body:     m.Summary,
		}
		if entry.Body == "" {
			entry.Body = m.Content
		}
		if m.ResourceTimestamp != nil {
			entry.When = m.ResourceTimestamp.Format("15:04 MST")
		}
		data.Moments = append(data.Moments, entry)
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return "", commonerrors.New("dreaming", "RenderDigest", commonerrors.KindInternal, err)
	}
	return buf.String(), nil
}
