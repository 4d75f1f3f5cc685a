package logging

// RedactSecret masks a credential for log output, keeping a short
// prefix so operators can tell keys apart.
// This is a pure function with no side effects.
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
