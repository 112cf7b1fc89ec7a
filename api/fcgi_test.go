package api

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/fcgi"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/totpauth/cookie"
	"github.com/jmcleod/totpauth/dispatch"
)

// FastCGI record types used by the responder role.
const (
	fcgiBeginRequest = 1
	fcgiEndRequest   = 3
	fcgiParams       = 4
	fcgiStdin        = 5
	fcgiStdout       = 6

	fcgiResponder = 1
)

type fcgiServer struct {
	addr string
	env  *testEnv
}

func setupFastCGI(t *testing.T, perSecond int) *fcgiServer {
	t.Helper()
	env := newTestEnv(t, perSecond)

	queue := dispatch.NewQueue[*Job](16)
	pool := dispatch.NewPool(queue, 2, env.api.Process)
	pool.Start()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	front := NewFrontend(queue, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	go fcgi.Serve(ln, front.Router())

	t.Cleanup(func() {
		ln.Close()
		queue.Close()
		pool.Wait()
	})
	return &fcgiServer{addr: ln.Addr().String(), env: env}
}

type fcgiResponse struct {
	status int
	header textproto.MIMEHeader
	body   string
}

func writeRecord(w io.Writer, typ uint8, content []byte) error {
	hdr := [8]byte{1, typ}
	binary.BigEndian.PutUint16(hdr[2:], 1)
	binary.BigEndian.PutUint16(hdr[4:], uint16(len(content)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(content)
	return err
}

func encodeParamLen(buf *bytes.Buffer, n int) {
	if n < 128 {
		buf.WriteByte(byte(n))
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|1<<31)
	buf.Write(b[:])
}

// roundTrip sends one responder request with the given CGI parameters and
// body, and parses the CGI-style reply.
func (s *fcgiServer) roundTrip(t *testing.T, params map[string]string, body string) fcgiResponse {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	var begin [8]byte
	binary.BigEndian.PutUint16(begin[:], fcgiResponder)
	require.NoError(t, writeRecord(conn, fcgiBeginRequest, begin[:]))

	var p bytes.Buffer
	for k, v := range params {
		encodeParamLen(&p, len(k))
		encodeParamLen(&p, len(v))
		p.WriteString(k)
		p.WriteString(v)
	}
	require.NoError(t, writeRecord(conn, fcgiParams, p.Bytes()))
	require.NoError(t, writeRecord(conn, fcgiParams, nil))
	if body != "" {
		require.NoError(t, writeRecord(conn, fcgiStdin, []byte(body)))
	}
	require.NoError(t, writeRecord(conn, fcgiStdin, nil))

	var stdout bytes.Buffer
	for {
		var hdr [8]byte
		_, err := io.ReadFull(conn, hdr[:])
		require.NoError(t, err)
		content := make([]byte, int(binary.BigEndian.Uint16(hdr[4:]))+int(hdr[6]))
		_, err = io.ReadFull(conn, content)
		require.NoError(t, err)
		content = content[:binary.BigEndian.Uint16(hdr[4:])]

		if hdr[1] == fcgiStdout {
			stdout.Write(content)
		}
		if hdr[1] == fcgiEndRequest {
			break
		}
	}

	tp := textproto.NewReader(bufio.NewReader(&stdout))
	header, err := tp.ReadMIMEHeader()
	require.NoError(t, err)
	code, _, _ := strings.Cut(header.Get("Status"), " ")
	status := http.StatusOK
	if code != "" {
		status, err = strconv.Atoi(code)
		require.NoError(t, err)
	}
	rest, err := io.ReadAll(tp.R)
	require.NoError(t, err)
	return fcgiResponse{status: status, header: header, body: string(rest)}
}

// subrequest builds the parameters nginx sends for an auth_request
// subrequest: REQUEST_URI is the client's URL, DOCUMENT_URI the subrequest.
func subrequest(clientURI, docURI, remoteAddr string) map[string]string {
	return map[string]string{
		"REQUEST_METHOD":  http.MethodGet,
		"SERVER_PROTOCOL": "HTTP/1.1",
		"REQUEST_URI":     clientURI,
		"DOCUMENT_URI":    docURI,
		"HTTP_HOST":       testHost,
		"REMOTE_ADDR":     remoteAddr,
		"REMOTE_PORT":     "51000",
	}
}

func TestFastCGIAuthRoutesOnDocumentURI(t *testing.T) {
	srv := setupFastCGI(t, 10)

	for _, clientURI := range []string{"/secret/page", "/healthz", "/login", "/logout"} {
		resp := srv.roundTrip(t, subrequest(clientURI, "/auth", testClientIP), "")
		assert.Equal(t, http.StatusUnauthorized, resp.status, clientURI)
		assert.Equal(t, "Authentication Denied", resp.body, clientURI)
	}

	params := subrequest("/healthz", "/auth", testClientIP)
	params["HTTP_COOKIE"] = cookie.Name + "=" + srv.env.cookies.Issue(testUser, srv.env.clock.Now())
	resp := srv.roundTrip(t, params, "")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Authentication Succeeded", resp.body)
}

func TestFastCGIHealthzByDocumentURI(t *testing.T) {
	srv := setupFastCGI(t, 10)

	resp := srv.roundTrip(t, subrequest("/healthz", "/healthz", testClientIP), "")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body)
}

func TestFastCGIUnknownHost(t *testing.T) {
	srv := setupFastCGI(t, 10)

	params := subrequest("/", "/auth", testClientIP)
	params["HTTP_HOST"] = "other.example.com"
	resp := srv.roundTrip(t, params, "")
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.Equal(t, "Unknown hostname: other.example.com", resp.body)
}

func TestFastCGILoginAndLogout(t *testing.T) {
	srv := setupFastCGI(t, 10)

	page := subrequest("/login?follow_page=%2Fdashboard", "/login", testClientIP)
	resp := srv.roundTrip(t, page, "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, `value="/dashboard"`)

	form := url.Values{
		"username":    {testUser},
		"password":    {testPassword},
		"totp":        {srv.env.currentCode()},
		"follow_page": {"/ignored"},
	}.Encode()
	post := subrequest("/login?follow_page=%2Fdashboard", "/login", testClientIP)
	post["REQUEST_METHOD"] = http.MethodPost
	post["CONTENT_TYPE"] = "application/x-www-form-urlencoded"
	post["CONTENT_LENGTH"] = strconv.Itoa(len(form))
	resp = srv.roundTrip(t, post, form)
	require.Equal(t, http.StatusFound, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("Location"), "query follow_page wins over the form")

	c, err := http.ParseSetCookie(resp.header.Get("Set-Cookie"))
	require.NoError(t, err)
	assert.Equal(t, cookie.Name, c.Name)

	auth := subrequest("/dashboard", "/auth", testClientIP)
	auth["HTTP_COOKIE"] = c.Name + "=" + c.Value
	assert.Equal(t, http.StatusOK, srv.roundTrip(t, auth, "").status)

	// A rewritten logout location still reaches /logout.
	resp = srv.roundTrip(t, subrequest("/account/sign-out", "/logout", testClientIP), "")
	require.Equal(t, http.StatusFound, resp.status)
	assert.Equal(t, "/login", resp.header.Get("Location"))
	cleared, err := http.ParseSetCookie(resp.header.Get("Set-Cookie"))
	require.NoError(t, err)
	assert.Equal(t, "null", cleared.Value)
}

func TestFastCGIRateLimitsByRemoteAddr(t *testing.T) {
	srv := setupFastCGI(t, 1)

	first := srv.roundTrip(t, subrequest("/login", "/login", "198.51.100.50"), "")
	require.Equal(t, http.StatusOK, first.status)
	second := srv.roundTrip(t, subrequest("/login", "/login", "198.51.100.50"), "")
	assert.Equal(t, http.StatusTooManyRequests, second.status)

	other := srv.roundTrip(t, subrequest("/login", "/login", "198.51.100.51"), "")
	assert.Equal(t, http.StatusOK, other.status, "REMOTE_ADDR keys the limiter")

	var remotes []string
	for _, ev := range srv.env.logs.events() {
		if ev["event"] == string(AuditLoginRateLimited) {
			remotes = append(remotes, ev["remote_addr"].(string))
		}
	}
	assert.Equal(t, []string{"198.51.100.50"}, remotes)
}
