package server

import "github.com/authframe/authframe/message"

// setAudience writes "aud" as a bare string when single-valued, an array
// otherwise — spec §4.4.5's rule for the userinfo and introspection
// responses.
func setAudience(resp message.Response, audiences []string) {
	switch len(audiences) {
	case 0:
		return
	case 1:
		resp.SetString("aud", audiences[0])
	default:
		_ = resp.Set("aud", message.Strings(audiences))
	}
}
