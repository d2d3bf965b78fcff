package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Message is a composed confirmation email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

var bodyTmpl = template.Must(template.New("notice").Parse(`<html>
  <body>
    <h2 style="color: #2c3e50;">Parking Reservation {{.Heading}}</h2>
    <p>Dear {{.Name}},</p>
    <p>Your reservation for <strong>Parking Slot {{.Slot}}</strong> has been {{.Verb}}.</p>
    <p>Thank you for using our parking system!</p>
    <br>
    <p style="color: #7f8c8d;"><em>This is an automated message - please do not reply</em></p>
  </body>
</html>
`))

// Compose renders the confirmation email for n.
func Compose(n Notice) (Message, error) {
	data := struct {
		Heading, Name, Verb string
		Slot                int
	}{Name: n.Name, Slot: n.Slot}

	switch n.Action {
	case ActionReserved:
		data.Heading, data.Verb = "Confirmation", "confirmed"
	case ActionCancelled:
		data.Heading, data.Verb = "Cancellation", "cancelled"
	default:
		return Message{}, fmt.Errorf("unknown notice action %q", n.Action)
	}

	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render notice: %w", err)
	}
	action := string(n.Action)
	return Message{
		To:      n.Email,
		Subject: fmt.Sprintf("Parking Slot %d Reservation %s", n.Slot, strings.ToUpper(action[:1])+action[1:]),
		HTML:    buf.String(),
	}, nil
}

// SMTPMailer sends through an SMTP relay with STARTTLS and PLAIN auth.
type SMTPMailer struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// Enabled reports whether a relay host is configured.
func (m SMTPMailer) Enabled() bool { return m.Host != "" }

func (m SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := m.From
	if from == "" {
		from = m.User
	}
	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(net.JoinHostPort(m.Host, m.Port), auth, from, []string{msg.To}, encode(from, msg, time.Now()))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// encode renders msg as an RFC 5322 message with an HTML body.
func encode(from string, msg Message, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.HTML, "\n", "\r\n"))
	return b.Bytes()
}
