package mailer

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type smtpMessage struct {
	From     string
	To       []string
	Data     []byte
	AuthUser string
	AuthPass string
}

//smtpBackend records every message submitted to it
type smtpBackend struct {
	mu       sync.Mutex
	Messages []*smtpMessage
	//Password is the only password AUTH PLAIN accepts
	Password string
}

func (be *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: be}, nil
}

func (be *smtpBackend) messages() []*smtpMessage {
	be.mu.Lock()
	defer be.mu.Unlock()
	return append([]*smtpMessage(nil), be.Messages...)
}

type session struct {
	backend  *smtpBackend
	user     string
	password string
	msg      *smtpMessage
}

func (s *session) Reset() {
	s.msg = &smtpMessage{}
}

func (s *session) Logout() error {
	return nil
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("auth: unsupported mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if password != s.backend.Password {
			return errors.New("auth: invalid credentials")
		}
		s.user = username
		s.password = password
		return nil
	}), nil
}

func (s *session) AuthPlain(username, password string) error {
	srv, err := s.Auth(sasl.Plain)
	if err != nil {
		return err
	}
	_, _, err = srv.Next([]byte("\x00" + username + "\x00" + password))
	return err
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.Reset()
	s.msg.From = from
	s.msg.AuthUser = s.user
	s.msg.AuthPass = s.password
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = b
	s.backend.mu.Lock()
	s.backend.Messages = append(s.backend.Messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

//smtpServer runs a plaintext submission server without STARTTLS
func smtpServer(t *testing.T) (*smtpBackend, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	be := &smtpBackend{Password: "secret"}
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ReadTimeout = 5 * time.Second
	s.WriteTimeout = 5 * time.Second

	go s.Serve(l)
	t.Cleanup(func() { s.Close() })
	return be, l.Addr().String()
}

func TestSend(t *testing.T) {
	be, addr := smtpServer(t)
	m := New(utils.SMTPConfig{Addr: addr, Username: "alice", Password: "secret"}, false, 5*time.Second)

	id, err := m.Send("alice@example.com", []string{"bob@example.com"}, "rule trigger 42", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := be.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].From)
	assert.Equal(t, []string{"bob@example.com"}, msgs[0].To)
	assert.Equal(t, "alice", msgs[0].AuthUser)
	assert.Equal(t, "secret", msgs[0].AuthPass)
	assert.Contains(t, string(msgs[0].Data), "Subject: rule trigger 42")
	assert.Contains(t, string(msgs[0].Data), id)
}

func TestSendBadCredentials(t *testing.T) {
	be, addr := smtpServer(t)
	m := New(utils.SMTPConfig{Addr: addr, Username: "alice", Password: "wrong"}, false, 5*time.Second)

	_, err := m.Send("alice@example.com", []string{"bob@example.com"}, "s", "b")
	require.Error(t, err)
	assert.Empty(t, be.messages())
}

func TestStartTLSRequired(t *testing.T) {
	be, addr := smtpServer(t)
	m := New(utils.SMTPConfig{Addr: addr, StartTLS: true}, false, 5*time.Second)
	_, err := m.Send("alice@example.com", []string{"bob@example.com"}, "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
	assert.Empty(t, be.messages())
}

func TestCompose(t *testing.T) {
	msg, id, err := Compose("alice@example.com", []string{"bob@example.com", "carol@example.com"}, "subject", "body")
	require.NoError(t, err)
	s := string(msg)
	assert.Contains(t, s, "Message-Id: <"+id+">")
	assert.Contains(t, s, "To: <bob@example.com>, <carol@example.com>")
	assert.Contains(t, s, "Content-Type: text/plain; charset=utf-8")
}

func TestComposeAttachment(t *testing.T) {
	msg, _, err := Compose("alice@example.com", []string{"bob@example.com"}, "subject", "body",
		Attachment{Name: "report.txt", ContentType: "text/plain", Data: []byte("token")},
		Attachment{Name: "blob.bin", Data: []byte{0x00, 0x01}})
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(msg))
	require.NoError(t, err)
	ct, _, err := mr.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", ct)

	var text string
	files := map[string]string{}
	types := map[string]string{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			text = string(b)
		case *mail.AttachmentHeader:
			name, err := h.Filename()
			require.NoError(t, err)
			files[name] = string(b)
			types[name], _, _ = h.ContentType()
		}
	}
	assert.Equal(t, "body", text)
	assert.Equal(t, map[string]string{"report.txt": "token", "blob.bin": "\x00\x01"}, files)
	assert.Equal(t, "text/plain", types["report.txt"])
	assert.Equal(t, "application/octet-stream", types["blob.bin"])
}
