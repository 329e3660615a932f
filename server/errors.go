package server

import "net/http"

// StatusFor maps an OAuth2/OIDC error code to the HTTP status spec §6
// prescribes: 401 for invalid_token/missing_token, 403 for
// insufficient_access/insufficient_scope, 500 for server_error, 400
// otherwise. Grounded on the teacher's tokenErr/writeTokenError status
// selection in server/oauth2.go and server/error.go, generalized from a
// handful of hardcoded call sites to one shared lookup every endpoint
// uses.
func StatusFor(errorCode string) int {
	switch errorCode {
	case ErrInvalidToken, ErrMissingToken:
		return http.StatusUnauthorized
	case ErrInsufficientAccess, ErrInsufficientScope:
		return http.StatusForbidden
	case ErrServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// defaultDescription synthesizes an error_description for invalid_request
// rejections that omit one, per spec §7: "if omitted and the top-level
// kind is invalid_request, a default description is synthesized from the
// offending parameter name."
func defaultDescription(errorCode, parameter string) string {
	if errorCode != ErrInvalidRequest || parameter == "" {
		return ""
	}
	return "the request is missing or has an invalid value for \"" + parameter + "\""
}

// WriteError fills resp with an OAuth2 error document: error,
// error_description (defaulted for invalid_request when empty and a
// parameter name is known), and error_uri. Returns the HTTP status the
// host should apply.
func WriteError(resp interface {
	SetError(code, description, uri string)
}, errorCode, description, uri, offendingParameter string) int {
	if description == "" {
		description = defaultDescription(errorCode, offendingParameter)
	}
	resp.SetError(errorCode, description, uri)
	return StatusFor(errorCode)
}
