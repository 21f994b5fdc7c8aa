package channels

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// mailTimeout bounds the whole SMTP transaction, dial included. A stalled
// relay fails the send instead of pinning a delivery goroutine forever.
const mailTimeout = 30 * time.Second

// MailConfig is the per-channel JSON config for SMTP relay delivery.
type MailConfig struct {
	// Relay is the SMTP relay address, host:port.
	Relay string `json:"relay"`
	// From is the envelope and header sender.
	From string `json:"from"`
	// To are the recipients.
	To []string `json:"to"`
	// Subject is the mail subject. Defaults to "hostwatch alert".
	Subject string `json:"subject,omitempty"`
	// Username and Password enable PLAIN auth against the relay.
	// Empty means unauthenticated relay (typical for localhost).
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// MailFactory returns a Factory for SMTP relay delivery. Mail has no
// practical message size limit, so mail channels never chunk.
//
// Config example:
//
//	{"relay": "127.0.0.1:25", "from": "agent@web-01", "to": ["ops@example.com"]}
func MailFactory() Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg MailConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("mail: parse config: %w", err)
		}
		if cfg.Relay == "" {
			return nil, fmt.Errorf("mail: relay is required")
		}
		if cfg.From == "" {
			return nil, fmt.Errorf("mail: from is required")
		}
		if len(cfg.To) == 0 {
			return nil, fmt.Errorf("mail: at least one recipient is required")
		}
		if cfg.Subject == "" {
			cfg.Subject = "hostwatch alert"
		}
		return &mailChannel{name: name, config: cfg, send: sendMail(mailTimeout)}, nil
	}
}

type mailChannel struct {
	name   string
	config MailConfig

	// send is swappable so tests don't need a live relay.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (c *mailChannel) Name() string          { return c.name }
func (c *mailChannel) Kind() string          { return "mail" }
func (c *mailChannel) MaxMessageLength() int { return 0 }

func (c *mailChannel) SendChunk(ctx context.Context, text string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", c.config.Subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(text, "\n", "\r\n"))

	var auth smtp.Auth
	if c.config.Username != "" {
		host := c.config.Relay
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, host)
	}

	// The goroutine lets SendChunk return on ctx cancellation; its own
	// lifetime is bounded by the send deadline, not by ctx.
	errc := make(chan error, 1)
	go func() {
		errc <- c.send(c.config.Relay, auth, c.config.From, c.config.To, []byte(msg.String()))
	}()

	select {
	case <-ctx.Done():
		return &SendError{Channel: c.name, Kind: "mail", Transient: true, Cause: ctx.Err()}
	case err := <-errc:
		if err == nil {
			return nil
		}
		return &SendError{Channel: c.name, Kind: "mail", Transient: mailTransient(err), Cause: err}
	}
}

// sendMail returns a send function that runs the full SMTP transaction
// against a connection with an absolute deadline. smtp.SendMail has no
// timeout at all, so a relay that accepts the dial and then goes quiet
// would block forever.
func sendMail(timeout time.Duration) func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return err
		}
		conn.SetDeadline(time.Now().Add(timeout))

		host := addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		client, err := smtp.NewClient(conn, host)
		if err != nil {
			conn.Close()
			return err
		}
		defer client.Close()

		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
		if auth != nil {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
		if err := client.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := client.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := client.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(msg); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		return client.Quit()
	}
}

// mailTransient classifies relay errors. SMTP 5xx replies (bad auth,
// rejected recipient) are permanent; 4xx replies and network failures
// (relay down, timeout) are worth retrying.
func mailTransient(err error) bool {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code < 500
	}
	return true
}
