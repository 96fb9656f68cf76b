package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLanguages = map[string]bool{
	"":   true, // auto-detect
	"en": true,
	"cn": true,
}

// ValidationResult separates config problems that must stop the run from
// ones that were auto-corrected and only deserve a warning.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

func (r *ValidationResult) fatalf(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// clamp bounds *v to [lo, hi] and records a warning when the value moved.
func (r *ValidationResult) clamp(key string, v *int, lo, hi int) {
	switch {
	case *v < lo:
		r.warnf("%s %d is below minimum %d, clamping", key, *v, lo)
		*v = lo
	case *v > hi:
		r.warnf("%s %d exceeds maximum %d, clamping", key, *v, hi)
		*v = hi
	}
}

// ValidateTiered checks the config. Values that would make the run
// misbehave are clamped to a safe range and reported as warnings; values
// that cannot be repaired are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var res ValidationResult

	if strings.TrimSpace(c.Profile) == "" {
		res.fatalf("profile must not be empty")
	} else if strings.ContainsAny(c.Profile, `/\`) {
		res.fatalf("profile %q must be a name, not a path", c.Profile)
	}

	for _, p := range []struct{ key, value string }{
		{"app_path", c.AppPath},
		{"backup_dir", c.BackupDir},
		{"staging_root", c.StagingRoot},
		{"log_file", c.LogFile},
	} {
		if p.value != "" && !filepath.IsAbs(p.value) {
			res.fatalf("%s %q must be an absolute path", p.key, p.value)
		}
	}

	if strings.ContainsFunc(c.SigningIdentity, unicode.IsControl) {
		res.fatalf("signing_identity contains control characters")
	}

	if !validLanguages[strings.ToLower(c.Language)] {
		res.fatalf("language %q is not valid (use en or cn)", c.Language)
	}

	res.clamp("sign_attempts", &c.SignAttempts, 1, 10)
	res.clamp("sign_retry_delay_seconds", &c.SignRetryDelaySeconds, 0, 60)
	res.clamp("process_attempts", &c.ProcessAttempts, 1, 10)
	res.clamp("process_wait_seconds", &c.ProcessWaitSeconds, 1, 120)
	res.clamp("log_max_size_mb", &c.LogMaxSizeMB, 1, 100)
	res.clamp("log_max_backups", &c.LogMaxBackups, 1, 10)
	res.clamp("audit_max_size_mb", &c.AuditMaxSizeMB, 1, 100)
	res.clamp("audit_max_backups", &c.AuditMaxBackups, 1, 10)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		res.warnf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		res.warnf("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	return res
}
