package notification

import (
	"bytes"
	"crypto/md5"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/mikeyg42/vehicle-security/internal/security"
)

// AlertData is the template input of an alert email.
type AlertData struct {
	SystemName string
	Time       string
	Source     string
	Panic      bool
	State      string
	Streaming  []string
	AlertID    string
	Timestamp  time.Time
}

func newAlertData(a security.Alert, systemName string) *AlertData {
	return &AlertData{
		SystemName: systemName,
		Time:       a.At.Format("Monday, January 2, 2006 at 3:04 PM"),
		Source:     a.Source,
		Panic:      a.Source == "panic",
		State:      a.Status.State.String(),
		Streaming:  a.Status.Streaming,
		AlertID:    generateAlertID(a.At, a.Source),
		Timestamp:  a.At,
	}
}

func (d *AlertData) Subject() string {
	if d.Panic {
		return fmt.Sprintf("Panic Alert - %s", d.SystemName)
	}
	return fmt.Sprintf("Security Breach (%s) - %s", d.Source, d.SystemName)
}

// generateAlertID creates a unique identifier for this specific alert
func generateAlertID(at time.Time, source string) string {
	hash := md5.Sum([]byte(at.String() + source))
	return fmt.Sprintf("%s-%x", at.Format("20060102-150405"), hash[:4])
}

const alertTextTemplate = `{{if .Panic}}PANIC BUTTON PRESSED{{else}}SECURITY BREACH DETECTED{{end}}

Vehicle: {{.SystemName}}
Time:    {{.Time}}
Source:  {{.Source}}
State:   {{.State}}
{{- if .Streaming}}
Live cameras: {{join .Streaming ", "}}
{{- end}}

Open the app to view the live stream or report a false alarm.

Alert ID: {{.AlertID}}
`

const alertHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.SystemName}} alert</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif;">
  <div style="max-width: 600px; margin: 0 auto;">
    <h2 style="color: #b00020;">{{if .Panic}}Panic button pressed{{else}}Security breach detected{{end}}</h2>
    <table>
      <tr><td><strong>Vehicle</strong></td><td>{{.SystemName}}</td></tr>
      <tr><td><strong>Time</strong></td><td>{{.Time}}</td></tr>
      <tr><td><strong>Source</strong></td><td>{{.Source}}</td></tr>
      <tr><td><strong>State</strong></td><td>{{.State}}</td></tr>
    </table>
    <p>Open the app to view the live stream or report a false alarm.</p>
    <p style="color: #888; font-size: 12px;">Alert ID: {{.AlertID}}</p>
  </div>
</body>
</html>
`

var (
	textTmpl = template.Must(template.New("text").Funcs(template.FuncMap{"join": strings.Join}).Parse(alertTextTemplate))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(alertHTMLTemplate))
)

// renderAlert renders both HTML and text versions of an alert
func renderAlert(data *AlertData) (htmlBody, textBody string, err error) {
	var htmlBuf, textBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute HTML template: %w", err)
	}
	if err := textTmpl.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute text template: %w", err)
	}
	return htmlBuf.String(), textBuf.String(), nil
}

// message is a multipart/alternative email.
type message struct {
	From     string
	FromName string
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
	AlertID  string
	Date     time.Time
}

// build renders the message in RFC 5322 form.
func (m *message) build() ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writePart(mw, "text/plain; charset=utf-8", m.TextBody); err != nil {
		return nil, fmt.Errorf("failed to write text part: %w", err)
	}
	if err := writePart(mw, "text/html; charset=utf-8", m.HTMLBody); err != nil {
		return nil, fmt.Errorf("failed to write HTML part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	headers := map[string]string{
		"From":                     formatAddress(m.FromName, m.From),
		"To":                       strings.Join(m.To, ", "),
		"Subject":                  mime.QEncoding.Encode("utf-8", m.Subject),
		"Date":                     m.Date.Format(time.RFC1123Z),
		"MIME-Version":             "1.0",
		"Content-Type":             "multipart/alternative; boundary=" + mw.Boundary(),
		"Auto-Submitted":           "auto-generated",
		"X-Auto-Response-Suppress": "All",
		"X-Priority":               "1",
	}
	if m.AlertID != "" {
		headers["X-Alert-ID"] = m.AlertID
		headers["Message-ID"] = fmt.Sprintf("<%s@vehicle-security.local>", m.AlertID)
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&out, "%s: %s\r\n", k, headers[k])
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

// formatAddress creates a properly encoded display name for email headers
func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), address)
}
