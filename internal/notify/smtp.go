package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"

	"go.uber.org/zap"
)

// SMTPNotifier mails the rendered message to the subject's address.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
	logger   *zap.SugaredLogger
}

func NewSMTPNotifier(cfg Config, logger *zap.SugaredLogger) *SMTPNotifier {
	return &SMTPNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		logger:   logger,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, subjectID, tmpl string, params map[string]string) error {
	to := params[ParamEmail]
	if to == "" {
		n.logger.Debugw("no email address, notification skipped", "subject_id", subjectID)
		return nil
	}
	msg, err := Render(tmpl, params)
	if err != nil {
		return err
	}
	return n.deliver(ctx, to, buildMessage(n.from, to, msg))
}

func buildMessage(from, to string, msg Message) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\n", from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", msg.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
			"\r\n" +
			msg.Body,
	)
}

// deliver uses implicit TLS on 465 and STARTTLS (when offered) elsewhere.
func (n *SMTPNotifier) deliver(ctx context.Context, to string, body []byte) error {
	addr := net.JoinHostPort(n.host, n.port)
	var d net.Dialer
	var conn net.Conn
	var err error
	if n.port == "465" {
		conn, err = (&tls.Dialer{NetDialer: &d, Config: &tls.Config{ServerName: n.host}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Quit()

	if n.port != "465" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if n.username != "" {
		if err := client.Auth(smtp.PlainAuth("", n.username, n.password, n.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(n.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Close()
}
