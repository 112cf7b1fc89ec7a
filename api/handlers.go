package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/totpauth/cookie"
	"github.com/jmcleod/totpauth/tenant"
	"github.com/jmcleod/totpauth/totp"
	"github.com/jmcleod/totpauth/web"
)

// Handle routes req to its endpoint and returns the complete response.
// It never fails: every outcome, including an unknown host, is a response.
func (a *API) Handle(ctx context.Context, req *Request) *Response {
	site, ok := a.sites.Lookup(req.Host)
	if !ok {
		a.audit.log(ctx, AuditUnknownHost, req)
		return textResponse(http.StatusInternalServerError, bodyUnknownHostPrefix+req.Host)
	}

	switch req.URI {
	case "/auth":
		return a.authenticate(ctx, req, site)
	case "/login":
		return a.login(ctx, req, site)
	case "/logout":
		return a.logout(ctx, req)
	default:
		a.audit.log(ctx, AuditUnknownEndpoint, req, slog.String("uri", req.URI))
		return textResponse(http.StatusNotFound, bodyNotFound)
	}
}

// authenticate answers the proxy's auth_request subrequest.
func (a *API) authenticate(ctx context.Context, req *Request, site *tenant.Site) *Response {
	username, ok := a.cookies.Verify(req.Cookies[cookie.Name], site.SessionDuration, a.now())
	if !ok {
		a.audit.log(ctx, AuditAuthDenied, req)
		return textResponse(http.StatusUnauthorized, bodyAuthDenied)
	}
	a.audit.logUser(ctx, AuditAuthGranted, req, username)
	return textResponse(http.StatusOK, bodyAuthSucceeded)
}

// login rate limits the caller, checks submitted credentials and either
// redirects with a fresh session cookie or renders the login page.
func (a *API) login(ctx context.Context, req *Request, site *tenant.Site) *Response {
	limited, err := a.limiter.Check(ctx, req.Fingerprint)
	if err != nil {
		return a.limiterUnavailable(ctx, req, err)
	}
	if limited {
		// The attempt is still recorded, so hammering keeps the caller blocked.
		if err := a.limiter.Consume(ctx, req.Fingerprint); err != nil {
			a.audit.logFailure(ctx, AuditLimiterError, req, err.Error())
		}
		a.audit.log(ctx, AuditLoginRateLimited, req)
		return textResponse(http.StatusTooManyRequests, bodyTooManyRequests)
	}
	if err := a.limiter.Consume(ctx, req.Fingerprint); err != nil {
		return a.limiterUnavailable(ctx, req, err)
	}

	follow := followPage(req)
	failed := false
	if req.Method == http.MethodPost {
		username := req.Form["username"]
		user, reason := a.checkCredentials(site, username, req.Form["password"], submittedCode(req))
		if user != nil {
			now := a.now()
			token := a.cookies.Issue(user.Name, now)
			a.audit.logUser(ctx, AuditLoginSuccess, req, user.Name)
			return redirectResponse(sessionCookie(token, now.Add(user.SessionDuration), req.Secure), follow)
		}
		a.audit.logFailure(ctx, AuditLoginFailure, req, reason, slog.String("user", username))
		failed = true
	}

	page, err := a.pages.Render(site.Template, web.Page{
		Hostname:   req.Host,
		FollowPage: follow,
		Error:      failed,
	})
	if errors.Is(err, web.ErrUnknownTemplate) {
		a.audit.log(ctx, AuditTemplateMissing, req, slog.String("template", site.Template))
		return textResponse(http.StatusInternalServerError, bodyTemplateMissing)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "rendering login page",
			"request_id", req.ID, "template", site.Template, "error", err)
		return textResponse(http.StatusInternalServerError, bodyTemplateFailed)
	}
	return htmlResponse(http.StatusOK, page)
}

// submittedCode reads the login form's code field. The bundled templates
// post it as totp; totp_code is accepted for hand-written forms.
func submittedCode(req *Request) string {
	if code, ok := req.Form["totp"]; ok {
		return code
	}
	return req.Form["totp_code"]
}

// checkCredentials returns the user when username, password and code are
// all correct, and otherwise a reason for the audit log. The password is
// compared exactly as configured.
func (a *API) checkCredentials(site *tenant.Site, username, password, code string) (*tenant.User, string) {
	user, ok := site.User(username)
	if !ok {
		return nil, "unknown user"
	}
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return nil, "wrong password"
	}
	if !totp.Valid(user.TOTP, code, site.Generations, a.now()) {
		return nil, "wrong code"
	}
	return user, ""
}

func (a *API) limiterUnavailable(ctx context.Context, req *Request, err error) *Response {
	a.audit.logFailure(ctx, AuditLimiterError, req, err.Error())
	return textResponse(http.StatusServiceUnavailable, bodyLimiterDown)
}

// logout clears the session cookie and sends the client back to /login.
func (a *API) logout(ctx context.Context, req *Request) *Response {
	a.audit.log(ctx, AuditLogout, req)
	return redirectResponse(clearedSessionCookie(req.Secure), "/login",
		Header{Name: "Cache-Control", Value: "no-cache, no-store, max-age=0"})
}
