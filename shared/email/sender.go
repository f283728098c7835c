// Package email dispatches the rendered digest as a PDF attachment over
// SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"tubedigest/internal/models"
	"tubedigest/shared/config"
	"tubedigest/shared/retry"

	log "github.com/sirupsen/logrus"
)

const (
	dialTimeout    = 30 * time.Second
	sessionTimeout = 2 * time.Minute
)

var sendRetryPolicy = retry.Policy{
	MaxAttempts:     2,
	InitialInterval: 5 * time.Second,
	MaxInterval:     30 * time.Second,
	Multiplier:      2,
}

// AuthError marks a credential rejection by the mail transport. The report
// file is already on disk at this point; callers abort the run and leave it
// in place for manual recovery.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("smtp authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type Sender struct {
	config *config.EmailConfig
}

func NewSender(cfg *config.EmailConfig) *Sender {
	return &Sender{
		config: cfg,
	}
}

// SendReport emails the rendered report file as a PDF attachment.
func (s *Sender) SendReport(ctx context.Context, report *models.Report, attachmentPath string) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	attachment, err := os.ReadFile(attachmentPath)
	if err != nil {
		return fmt.Errorf("failed to read report attachment: %w", err)
	}

	subject := fmt.Sprintf("Daily Video Digest - %d Video(s) (%s)",
		report.VideoCount, report.GeneratedAt.Format("Jan 2, 2006"))

	body, err := s.generateEmailBody(report)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}

	msg, err := s.buildMessage(subject, body, attachment, filepath.Base(attachmentPath))
	if err != nil {
		return fmt.Errorf("failed to build email message: %w", err)
	}

	return s.send(ctx, msg)
}

func (s *Sender) send(ctx context.Context, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", s.config.SMTPServer, s.config.SMTPPort)

	err := retry.Do(ctx, "smtp send", sendRetryPolicy, isRetryable, func(ctx context.Context) error {
		return s.submit(addr, msg)
	})
	if err != nil {
		if isAuthError(err) {
			return &AuthError{Err: err}
		}
		return fmt.Errorf("failed to send email via %s: %w", addr, err)
	}

	log.Infof("Email sent to %s", s.config.ToEmail)
	return nil
}

// submit performs one SMTP conversation: dial with a deadline, STARTTLS when
// the server offers it, authenticate, send.
func (s *Sender) submit(addr string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(sessionTimeout))

	client, err := smtp.NewClient(conn, s.config.SMTPServer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open smtp session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: s.config.SMTPServer}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if ok, _ := client.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPServer)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(s.config.ToEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return client.Quit()
}

// buildMessage assembles a multipart/mixed message: HTML body first, then
// the PDF attachment base64-encoded in 76-character lines.
func (s *Sender) buildMessage(subject, htmlBody string, attachment []byte, filename string) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", s.config.FromEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", s.config.ToEmail)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mixed.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	bodyHeader := textproto.MIMEHeader{}
	bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	bodyPart, err := mixed.CreatePart(bodyHeader)
	if err != nil {
		return nil, err
	}
	if _, err := bodyPart.Write([]byte(htmlBody)); err != nil {
		return nil, err
	}

	attachHeader := textproto.MIMEHeader{}
	attachHeader.Set("Content-Type", "application/pdf")
	attachHeader.Set("Content-Transfer-Encoding", "base64")
	attachHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	attachPart, err := mixed.CreatePart(attachHeader)
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(attachment)
	for len(encoded) > 0 {
		n := 76
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := fmt.Fprintf(attachPart, "%s\r\n", encoded[:n]); err != nil {
			return nil, err
		}
		encoded = encoded[n:]
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const bodyTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222222;">
  <h2>Daily Video Digest</h2>
  <p>{{.GeneratedAt.Format "January 2, 2006"}} &mdash; {{.VideoCount}} video(s). The full digest is attached as a PDF.</p>
  <ol>
  {{- range .Items}}
    <li>
      <a href="{{.Video.URL}}">{{.Video.Title}}</a>
      {{- if .Video.Channel}}<br/><small>{{.Video.Channel.Title}}</small>{{end}}
    </li>
  {{- end}}
  </ol>
</body>
</html>`

var bodyTmpl = template.Must(template.New("email").Parse(bodyTemplate))

func (s *Sender) generateEmailBody(report *models.Report) (string, error) {
	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// isAuthError reports whether the server rejected our credentials.
func isAuthError(err error) bool {
	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		return false
	}
	switch protoErr.Code {
	case 530, 534, 535:
		return true
	}
	return false
}

// isRetryable: connection trouble and 4xx responses are transient; 5xx
// rejections (including bad credentials) are permanent and not retried.
func isRetryable(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
