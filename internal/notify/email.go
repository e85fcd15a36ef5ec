// Package notify sends order lifecycle mail over SMTP. Sends are
// fire-and-forget from the caller's perspective; a failure is logged and
// never blocks settlement.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"commerce-api/internal/orders"
)

type Conf struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewConf(host, port, username, password, from string) (*Conf, error) {
	if host == "" || port == "" {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if from == "" {
		from = "no-reply@example.com"
	}
	return &Conf{host: host, port: port, username: username, password: password, from: from}, nil
}

// SendOrderConfirmation mails the customer after their payment settles.
func (c *Conf) SendOrderConfirmation(order *orders.OrderView, to string) error {
	subject := "Order Confirmation"
	body := buildOrderBody(order,
		fmt.Sprintf("Thank you for your order! Your order number is %d. We are processing it now.", order.OrderID))
	return c.send(to, subject, body)
}

// SendOrderReady mails the customer when the admin marks the order
// processed.
func (c *Conf) SendOrderReady(order *orders.OrderView, to string) error {
	subject := "Your Order Is Ready"
	intro := fmt.Sprintf("Good news! Order %d is ready.", order.OrderID)
	if order.DeliveryOption == orders.DeliveryOptionCollection {
		intro += " You can collect it in store."
	} else if order.DeliveryDate != nil {
		intro += fmt.Sprintf(" It will be delivered on %s.", order.DeliveryDate.Format("2 January 2006"))
	}
	body := buildOrderBody(order, intro)
	return c.send(to, subject, body)
}

func buildOrderBody(order *orders.OrderView, intro string) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\r\n\r\n")
	for _, line := range order.Lines {
		fmt.Fprintf(&b, "%d x %s - £%s\r\n", line.Quantity, line.DisplayName, line.Price.StringFixed(2))
	}
	if order.FreeMagnet {
		b.WriteString("1 x Free Magnet\r\n")
	}
	if order.FreeMug {
		b.WriteString("1 x Free Mug\r\n")
	}
	if order.DiscountValue.IsPositive() {
		fmt.Fprintf(&b, "Discount: -£%s\r\n", order.DiscountValue.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: £%s\r\n", order.FinalTotal.StringFixed(2))
	return b.String()
}

func (c *Conf) send(to, subject, body string) error {
	message := []byte("To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	if err := smtp.SendMail(c.host+":"+c.port, auth, c.from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
