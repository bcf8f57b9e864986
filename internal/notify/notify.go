// Package notify отправляет транзакционные письма покупателям.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
)

// Config содержит параметры SMTP-подключения.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// OrderInfo содержит данные заказа для подстановки в письма.
type OrderInfo struct {
	TransactionCode string
	CustomerName    string
	VIN             string
	TierName        string
	Amount          string
	CheckoutURL     string
	ReportURL       string
}

// Mailer отправляет письма покупателю. Каждая отправка независима:
// сбой одного письма не влияет на остальные и на состояние заказа.
type Mailer struct {
	cfg Config
}

// NewMailer создаёт SMTP-отправитель писем.
func NewMailer(cfg Config) *Mailer {
	return &Mailer{cfg: cfg}
}

// Configured сообщает, задан ли SMTP-хост.
func (m *Mailer) Configured() bool {
	return m.cfg.Host != ""
}

// OrderCreated отправляет подтверждение создания заказа со ссылкой на оплату.
func (m *Mailer) OrderCreated(ctx context.Context, to string, info OrderInfo) error {
	return m.send(ctx, to, "Your vehicle history report order "+info.TransactionCode, orderCreatedTmpl, info)
}

// PaymentConfirmed отправляет подтверждение оплаты.
func (m *Mailer) PaymentConfirmed(ctx context.Context, to string, info OrderInfo) error {
	return m.send(ctx, to, "Payment received for order "+info.TransactionCode, paymentConfirmedTmpl, info)
}

// ReportReady отправляет ссылку на готовый отчёт.
func (m *Mailer) ReportReady(ctx context.Context, to string, info OrderInfo) error {
	return m.send(ctx, to, "Your vehicle history report is ready", reportReadyTmpl, info)
}

func (m *Mailer) send(ctx context.Context, to, subject string, tmpl *template.Template, info OrderInfo) error {
	if !m.Configured() {
		return fmt.Errorf("smtp not configured")
	}
	if to == "" {
		return fmt.Errorf("recipient address is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, info); err != nil {
		return fmt.Errorf("render email body: %w", err)
	}

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to, subject, mime, body.String()))

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}

var orderCreatedTmpl = template.Must(template.New("order_created").Parse(`
<h2>Thanks for your order, {{.CustomerName}}!</h2>
<p>Order <b>{{.TransactionCode}}</b> for VIN <b>{{.VIN}}</b> ({{.TierName}} report, {{.Amount}}) has been created.</p>
<p><a href="{{.CheckoutURL}}">Complete your payment</a> to receive the report.</p>
`))

var paymentConfirmedTmpl = template.Must(template.New("payment_confirmed").Parse(`
<h2>Payment received</h2>
<p>We received your payment of {{.Amount}} for order <b>{{.TransactionCode}}</b>.</p>
<p>Your report for VIN <b>{{.VIN}}</b> is being prepared and will be available shortly.</p>
`))

var reportReadyTmpl = template.Must(template.New("report_ready").Parse(`
<h2>Your report is ready</h2>
<p>The {{.TierName}} vehicle history report for VIN <b>{{.VIN}}</b> is ready.</p>
<p><a href="{{.ReportURL}}">Download your report</a>. The link stays active for 30 days.</p>
`))
