package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/authframe/authframe/message"
)

// httpExtractor implements server.RequestExtractor against *http.Request,
// grounded on the teacher's server/handlers.go pattern of every endpoint
// handler calling r.ParseForm() and r.BasicAuth() itself, generalized
// here into the one host-side adapter the core's RequestExtractor seam
// asks for (spec §6).
type httpExtractor struct{}

func (httpExtractor) Extract(ctx context.Context, host any) (*message.Message, string, string, string, bool, string, error) {
	r, ok := host.(*http.Request)
	if !ok {
		return nil, "", "", "", false, "", fmt.Errorf("authframed: expected *http.Request, got %T", host)
	}
	if err := r.ParseForm(); err != nil {
		return nil, "", "", "", false, "", fmt.Errorf("authframed: parse form: %w", err)
	}
	msg := message.ParseForm(r.Form)
	user, pass, hasBasic := r.BasicAuth()
	return msg, r.Method, user, pass, hasBasic, r.Header.Get("Authorization"), nil
}

// httpApplier implements server.ResponseApplier against http.ResponseWriter,
// grounded on the teacher's writeTokenResponse/writeError helpers in
// server/oauth2.go: a JSON document with the given status, Cache-Control
// disabled per RFC 6749 §5.1 ("responses MUST include the HTTP
// Cache-Control response header field with a value of no-store").
type httpApplier struct{}

func (httpApplier) Apply(ctx context.Context, host any, status int, resp message.Response) error {
	w, ok := host.(http.ResponseWriter)
	if !ok {
		return fmt.Errorf("authframed: expected http.ResponseWriter, got %T", host)
	}
	body, err := message.WriteJSON(resp.Message)
	if err != nil {
		return fmt.Errorf("authframed: marshal response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
