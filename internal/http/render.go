package http

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/grantd/internal/oauth"
)

// formPostTemplate is the OAuth 2.0 Form Post Response Mode document: an
// auto-submitting form carrying the response parameters to the redirect_uri.
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range $k, $v := .Params}}<input type="hidden" name="{{$k}}" value="{{$v}}"/>
{{end}}</form>
</body>
</html>
`))

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	writeJSON(w, status, body)
}

// tokenErrorStatus maps engine error codes to HTTP status for the token
// endpoint. invalid_client is the only 401; store failures surface as 500.
func tokenErrorStatus(code string) int {
	switch code {
	case oauth.ErrCodeInvalidClient:
		return http.StatusUnauthorized
	case oauth.ErrCodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// renderAuthorizeResponse delivers params to the redirect URI per the resolved
// response mode.
func renderAuthorizeResponse(w http.ResponseWriter, r *http.Request, resp *oauth.AuthorizeResponse) {
	switch resp.Mode {
	case oauth.ResponseModeFormPost:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = formPostTemplate.Execute(w, map[string]any{
			"Action": resp.RedirectURI,
			"Params": resp.Params,
		})
	case oauth.ResponseModeFragment:
		http.Redirect(w, r, resp.RedirectURI+"#"+encodeParams(resp.Params), http.StatusFound)
	default: // query
		target, err := url.Parse(resp.RedirectURI)
		if err != nil {
			http.Error(w, "invalid redirect", http.StatusInternalServerError)
			return
		}
		q := target.Query()
		for k, v := range resp.Params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	}
}

// renderAuthorizeError delivers a redirectable error through the redirect URI,
// or falls back to a local error document when redirecting is unsafe. Raw is
// the original query: a Redirectable error guarantees its redirect_uri already
// passed the exact-match check.
func renderAuthorizeError(w http.ResponseWriter, r *http.Request, raw url.Values, vErr *oauth.ValidationError) {
	if !vErr.Redirectable {
		// Never deliver through an unverified redirect target.
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             vErr.Code,
			"error_description": vErr.Description,
		})
		return
	}
	params := map[string]string{"error": vErr.Code}
	if vErr.Description != "" {
		params["error_description"] = vErr.Description
	}
	if state := raw.Get("state"); state != "" {
		params["state"] = state
	}

	mode := raw.Get("response_mode")
	if mode != oauth.ResponseModeFormPost {
		if oauth.NormalizeResponseType(raw.Get("response_type")) == "code" {
			mode = oauth.ResponseModeQuery
		} else {
			mode = oauth.ResponseModeFragment
		}
	}
	renderAuthorizeResponse(w, r, &oauth.AuthorizeResponse{
		RedirectURI: raw.Get("redirect_uri"),
		Mode:        mode,
		Params:      params,
	})
}

func encodeParams(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}
