package observability

import "regexp"

var (
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;&]+)`)
	reBearer   = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`)
	reDSNPass  = regexp.MustCompile(`(?i)(://)([^:/@\s]+):([^@\s]+)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)(api[_-]?key["'=:\s]+)([A-Za-z0-9._-]{8,})`)
	reSKToken  = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
)

// Mask replaces credentials in s: DSN user and password, password= pairs,
// bearer tokens and provider API keys.
func Mask(s string) string {
	out := rePassword.ReplaceAllString(s, "$1***")
	out = reBearer.ReplaceAllString(out, "$1***")
	out = reDSNPass.ReplaceAllString(out, "$1*:*$4")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	out = reSKToken.ReplaceAllString(out, "sk-***")
	return out
}

func maskFields(fields map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return fields
	}
	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			masked[k] = Mask(val)
		case error:
			masked[k] = Mask(val.Error())
		default:
			masked[k] = v
		}
	}
	return masked
}
