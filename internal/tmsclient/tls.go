package tmsclient

import "crypto/tls"

// insecureTLSConfig is only reachable when Config.AllowDisabledTLSVerify
// has explicitly unlocked Config.InsecureSkipVerify at construction time.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
}
