package api

import (
	"io"
	"net/http"
	"net/http/fcgi"
	"net/url"
	"strings"

	"github.com/jmcleod/totpauth/internal/uuid"
	"github.com/jmcleod/totpauth/ratelimit"
)

// maxBodyBytes bounds how much of a request body is parsed. Longer bodies
// are truncated, not rejected.
const maxBodyBytes = 4096

// Request is everything the endpoint handlers look at. Query, Form and
// Cookies keep the last value when a name repeats.
type Request struct {
	ID          string
	Method      string
	Host        string
	URI         string
	Query       map[string]string
	Form        map[string]string
	Cookies     map[string]string
	RemoteAddr  string
	Fingerprint uint64
	Secure      bool
}

// newRequest extracts a Request from r. The body is read up to maxBodyBytes
// and parsed as a URL-encoded form.
func (a *API) newRequest(r *http.Request) *Request {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}

	client := clientAddr(r, a.trustedProxies)
	remoteAddr := ""
	if client.IsValid() {
		remoteAddr = client.String()
	}
	return &Request{
		ID:          uuid.New(),
		Method:      r.Method,
		Host:        r.Host,
		URI:         documentURI(r),
		Query:       lastValues(parseVars(r.URL.RawQuery)),
		Form:        lastValues(parseVars(string(body))),
		Cookies:     lastCookies(r),
		RemoteAddr:  remoteAddr,
		Fingerprint: ratelimit.Fingerprint(client),
		Secure:      a.requestIsSecure(r),
	}
}

// documentURI prefers the FastCGI DOCUMENT_URI parameter. For an nginx
// auth_request subrequest REQUEST_URI still names the client's original
// URL, while DOCUMENT_URI is the subrequest path.
func documentURI(r *http.Request) string {
	if uri := fcgi.ProcessEnv(r)["DOCUMENT_URI"]; uri != "" {
		return uri
	}
	return r.URL.Path
}

// parseVars decodes a query string or form body, keeping whatever pairs
// decode cleanly.
func parseVars(raw string) url.Values {
	values, _ := url.ParseQuery(raw)
	return values
}

func lastValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

func lastCookies(r *http.Request) map[string]string {
	cookies := r.Cookies()
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// followPage is where a successful login redirects to: follow_page from the
// query, then the form, then "/". Control characters are removed so the
// value is always safe to place in a Location header.
func followPage(req *Request) string {
	page := req.Query["follow_page"]
	if page == "" {
		page = req.Form["follow_page"]
	}
	page = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, page)
	if page == "" {
		return "/"
	}
	return page
}
