// Package mailer sends the customer receipt and the internal sale alert.
// Delivery is fire-and-forget from the pipeline's point of view: a failed
// send is logged by the caller and lost.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"midistore/config"
	"midistore/internal/models"

	"gopkg.in/gomail.v2"
)

var tmplFuncs = template.FuncMap{
	"usd": func(cents int64) string {
		return fmt.Sprintf("$%.2f", float64(cents)/100)
	},
}

var receiptTmpl = template.Must(template.New("receipt").Funcs(tmplFuncs).Parse(`
<h1>Thanks for your order!</h1>
<p>Your downloads are ready.</p>
{{if .Items}}
<table>
  <tr><th align="left">Item</th><th align="left">Price</th><th></th></tr>
  {{range .Items}}
  <tr>
    <td>{{.Title}}</td>
    <td>{{usd .PriceCents}}</td>
    <td><a href="{{.DownloadURL}}">Download</a></td>
  </tr>
  {{end}}
</table>
{{end}}
<p><strong>Total charged: {{usd .TotalCents}}</strong></p>
<p>Order reference: {{.ID}}</p>
`))

var saleAlertTmpl = template.Must(template.New("alert").Funcs(tmplFuncs).Parse(`
<h2>New sale</h2>
<p>Order {{.ID}} for {{usd .TotalCents}}{{if .CustomerEmail}} from {{.CustomerEmail}}{{end}}.</p>
<ul>
{{range .Items}}<li>{{.Title}} ({{usd .PriceCents}})</li>
{{end}}</ul>
`))

type Mailer struct {
	dialer     *gomail.Dialer
	from       string
	adminEmail string
}

// New creates a new SMTP mailer
func New(cfg config.SMTPConfig) *Mailer {
	return &Mailer{
		dialer:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:       cfg.From,
		adminEmail: cfg.AdminEmail,
	}
}

// SendReceipt emails the customer their download links and the settled
// total. Item prices shown are the client-claimed ones; the total is what
// was actually charged.
func (m *Mailer) SendReceipt(order *models.Order) error {
	body, err := render(receiptTmpl, order)
	if err != nil {
		return err
	}
	return m.send(order.CustomerEmail, "Your MIDI downloads", body)
}

// SendSaleAlert emails the fixed admin address about a new sale
func (m *Mailer) SendSaleAlert(order *models.Order) error {
	body, err := render(saleAlertTmpl, order)
	if err != nil {
		return err
	}
	return m.send(m.adminEmail, fmt.Sprintf("New sale: order %s", order.ID), body)
}

func (m *Mailer) send(to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

func render(tmpl *template.Template, order *models.Order) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, order); err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return buf.String(), nil
}
