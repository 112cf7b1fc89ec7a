package api

import (
	"net/http"
	"strconv"
)

const (
	bodyAuthSucceeded     = "Authentication Succeeded"
	bodyAuthDenied        = "Authentication Denied"
	bodyTooManyRequests   = "Too many requests, request blocked"
	bodyLimiterDown       = "Rate limiter unavailable"
	bodyTemplateMissing   = "Could not find template"
	bodyTemplateFailed    = "Could not render template"
	bodyNotFound          = "Not found, valid endpoints: /auth /login /logout"
	bodyUnknownHostPrefix = "Unknown hostname: "
)

// Header is one response header line.
type Header struct {
	Name  string
	Value string
}

// Response is what an endpoint decided: a status, headers in the order they
// are written, and a body.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Get returns the first value of the named header.
func (resp *Response) Get(name string) string {
	for _, h := range resp.Headers {
		if http.CanonicalHeaderKey(h.Name) == http.CanonicalHeaderKey(name) {
			return h.Value
		}
	}
	return ""
}

func (resp *Response) add(name, value string) *Response {
	resp.Headers = append(resp.Headers, Header{Name: name, Value: value})
	return resp
}

func textResponse(status int, body string) *Response {
	resp := &Response{Status: status, Body: []byte(body)}
	return resp.add("Content-Type", "text/plain")
}

func htmlResponse(status int, body []byte) *Response {
	resp := &Response{Status: status, Body: body}
	return resp.add("Content-Type", "text/html")
}

// redirectResponse is a 302 carrying cookie, then any extra headers, then
// Location.
func redirectResponse(cookie *http.Cookie, location string, extra ...Header) *Response {
	resp := &Response{Status: http.StatusFound}
	resp.add("Set-Cookie", cookie.String())
	resp.Headers = append(resp.Headers, extra...)
	return resp.add("Location", location)
}

// Write sends resp through w. Content-Length is always set for a body.
func (resp *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for _, hdr := range resp.Headers {
		h.Add(hdr.Name, hdr.Value)
	}
	if len(resp.Body) > 0 {
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) == 0 {
		return nil
	}
	_, err := w.Write(resp.Body)
	return err
}
