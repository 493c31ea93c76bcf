package token

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Resolver decodes raw scanned payloads into canonical access tokens. Three
// historical QR encodings are in circulation and all of them must keep
// scanning:
//
//  1. structured payload {"t":"<app-tag>","tk":"<token>"}
//  2. a URL carrying a ?token= query parameter
//  3. a URL whose fragment is a bare 32-hex token (the fragment never reaches
//     the server, so the token stays out of access logs)
type Resolver struct {
	AppTag string
}

func NewResolver(appTag string) *Resolver {
	return &Resolver{AppTag: appTag}
}

type scanPayload struct {
	Tag   string `json:"t"`
	Token string `json:"tk"`
}

// Resolve tries the three encodings in order and returns the first token that
// matches. ok is false when none of them recognize the input; Resolve never
// returns an error to the caller.
func (r *Resolver) Resolve(raw string) (token string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if tk, ok := r.resolvePayload(raw); ok {
		return tk, true
	}
	if tk, ok := r.resolveQueryURL(raw); ok {
		return tk, true
	}
	if tk, ok := r.resolveFragmentURL(raw); ok {
		return tk, true
	}
	return "", false
}

func (r *Resolver) resolvePayload(raw string) (string, bool) {
	if !strings.HasPrefix(raw, "{") {
		return "", false
	}
	var p scanPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", false
	}
	if p.Tag != r.AppTag || p.Token == "" {
		return "", false
	}
	return p.Token, true
}

func (r *Resolver) resolveQueryURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	tk := u.Query().Get("token")
	if tk == "" {
		return "", false
	}
	return tk, true
}

func (r *Resolver) resolveFragmentURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	if !isHexToken(u.Fragment) {
		return "", false
	}
	return u.Fragment, true
}

// isHexToken reports whether s is exactly 32 lowercase-or-uppercase hex chars.
func isHexToken(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
