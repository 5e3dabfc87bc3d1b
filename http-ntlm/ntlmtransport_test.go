package httpntlm

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/require"
)

func TestRoundTripWithoutChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			b, _ := io.ReadAll(r.Body)
			w.Write(b)
		}
	}))
	defer srv.Close()

	client := http.Client{Transport: NtlmTransport{User: "user1", Password: "secret"}}
	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("ping"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "ping", string(body))
}

func TestRoundTripMissingNTLMHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", "Basic realm=\"x\"")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := http.Client{Transport: NtlmTransport{User: "user1", Password: "secret"}}
	_, err := client.Get(srv.URL)
	require.ErrorIs(t, err, ErrNoChallenge)
}

func TestNewClient(t *testing.T) {
	sess := &utils.Session{User: "user1", Basic: true}
	client, err := NewClient(sess, nil)
	require.NoError(t, err)
	_, ok := client.Transport.(*http.Transport)
	require.True(t, ok)

	sess.Basic = false
	client, err = NewClient(sess, func(rt http.RoundTripper) http.RoundTripper { return utils.WithHeader(rt) })
	require.NoError(t, err)
	_, ok = client.Transport.(*utils.HeaderRoundTripper)
	require.True(t, ok)

	sess.Proxy = "://bad"
	_, err = NewClient(sess, nil)
	require.Error(t, err)
}
