package config

import (
	"fmt"
	"strings"
)

// Validate checks cfg against the required-key policy described in
// spec.md §6: the TMS base URL and token, the storage root, and the
// webhook secret (unless an unsigned override is explicitly set) must
// all be present. Grounded on the original implementation's
// config/validate.py, which accumulates every issue before failing
// rather than stopping at the first one, so an operator sees the whole
// list in one run.
func (cfg *Config) Validate() error {
	var issues []string

	if strings.TrimSpace(cfg.TMS.BaseURL) == "" {
		issues = append(issues, "tms.base_url (TMS_BASE_URL) is required")
	}
	if strings.TrimSpace(cfg.TMS.Token) == "" {
		issues = append(issues, "tms.token (TMS_TOKEN) is required")
	}
	if strings.TrimSpace(cfg.Storage.Root) == "" {
		issues = append(issues, "storage.root (STORAGE_ROOT) is required")
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" && !cfg.Webhook.AllowUnsigned {
		issues = append(issues, "webhook.secret (WEBHOOK_SECRET) is required unless webhook.allow_unsigned is set to true")
	}

	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("configuration is invalid:\n- %s", strings.Join(issues, "\n- "))
}
