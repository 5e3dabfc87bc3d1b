package mailer

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sensepost/exconform/utils"
)

//Mailer submits the messages that trigger server side rules
type Mailer struct {
	Addr     string
	Hostname string
	StartTLS bool
	Username string
	Password string
	Insecure bool
	Timeout  time.Duration
}

//New builds a Mailer from the smtp section of the configuration
func New(cfg utils.SMTPConfig, insecure bool, timeout time.Duration) *Mailer {
	host := cfg.Hostname
	if host == "" {
		host = "localhost"
	}
	return &Mailer{
		Addr:     cfg.Addr,
		Hostname: host,
		StartTLS: cfg.StartTLS,
		Username: cfg.Username,
		Password: cfg.Password,
		Insecure: insecure,
		Timeout:  timeout,
	}
}

//Attachment is a file added to a composed message
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

//Compose renders a plain text message and returns it with its Message-Id.
//With attachments the message is multipart/mixed, the body its first part.
func Compose(from string, to []string, subject, body string, attachments ...Attachment) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	rcpts := make([]*mail.Address, 0, len(to))
	for _, t := range to {
		rcpts = append(rcpts, &mail.Address{Address: t})
	}
	h.SetAddressList("To", rcpts)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", err
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if len(attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), id, nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	if err := writeText(mw, body); err != nil {
		return nil, "", err
	}
	for _, a := range attachments {
		if err := writeAttachment(mw, a); err != nil {
			return nil, "", fmt.Errorf("attachment %s: %w", a.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), id, nil
}

func writeText(mw *mail.Writer, body string) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	return iw.Close()
}

func writeAttachment(mw *mail.Writer, a Attachment) error {
	var ah mail.AttachmentHeader
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	ah.SetContentType(ct, nil)
	ah.SetFilename(a.Name)
	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := w.Write(a.Data); err != nil {
		return err
	}
	return w.Close()
}

//Send delivers a plain text message and returns its Message-Id
func (m *Mailer) Send(from string, to []string, subject, body string) (string, error) {
	msg, id, err := Compose(from, to, subject, body)
	if err != nil {
		return "", err
	}
	if err := m.deliver(from, to, msg); err != nil {
		return "", err
	}
	utils.Trace.Printf("Delivered <%s> to %v", id, to)
	return id, nil
}

func (m *Mailer) deliver(from string, to []string, msg []byte) error {
	timeout := m.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	conn, err := net.DialTimeout("tcp", m.Addr, timeout)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	host, _, err := net.SplitHostPort(m.Addr)
	if err != nil {
		conn.Close()
		return err
	}

	cl := smtp.NewClient(conn)
	defer cl.Close()
	cl.CommandTimeout = timeout
	cl.SubmissionTimeout = timeout

	if err := cl.Hello(m.Hostname); err != nil {
		return fmt.Errorf("smtp EHLO: %w", err)
	}
	if m.StartTLS {
		if ok, _ := cl.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp: server does not offer STARTTLS")
		}
		if err := cl.StartTLS(&tls.Config{ServerName: host, InsecureSkipVerify: m.Insecure}); err != nil {
			return fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}
	if m.Username != "" {
		if err := cl.Auth(sasl.NewPlainClient("", m.Username, m.Password)); err != nil {
			return fmt.Errorf("smtp AUTH: %w", err)
		}
	}

	if err := cl.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := cl.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	wc, err := cl.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	return cl.Quit()
}
