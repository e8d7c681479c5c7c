// Package config builds the explicit run configuration for a sync
// invocation. The command layer resolves flags and environment into a
// Config once; everything below receives values explicitly and never
// reads the environment on its own.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Canonical option keys. Environment variables derive from these through
// the SUBSYNC prefix and dash-to-underscore replacement, so "primary-base"
// is SUBSYNC_PRIMARY_BASE.
const (
	KeyPrimaryBranch     = "primary-branch"
	KeyPrimaryBase       = "primary-base"
	KeySecondaryBase     = "secondary-base"
	KeyManual            = "manual"
	KeyIgnoreConsistency = "ignore-consistency"
	KeySignatureWindow   = "signature-window"
	KeyKeepWorkdir       = "keep-workdir"
)

// EnvPrefix is the prefix for all subsync environment options.
const EnvPrefix = "SUBSYNC"

// DefaultSignatureWindow is how many recent mirror commits are indexed for
// duplicate detection when no override is given.
const DefaultSignatureWindow = 500

// EnvVar returns the environment variable carrying an option key, for use
// in messages that tell the operator what to set.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Config carries everything a sync run needs.
type Config struct {
	SourceDir       string
	MirrorDir       string
	PrimaryBranch   string // empty means the source HEAD branch
	SecondaryBranch string

	// Baseline overrides. Empty means use the recorded checkpoint.
	PrimaryBase   string
	SecondaryBase string

	Manual            bool // confirm even single-match duplicates
	IgnoreConsistency bool // downgrade post-sync divergence to a warning
	KeepWorkdir       bool // retain working resources after a failed run

	SignatureWindow int
}

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewViper returns a viper instance with subsync defaults and environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeySignatureWindow, DefaultSignatureWindow)
	return v
}

// FromViper assembles and validates a Config from resolved options plus the
// three positional arguments.
func FromViper(v *viper.Viper, sourceDir, mirrorDir, secondaryBranch string) (*Config, error) {
	cfg := &Config{
		SourceDir:         sourceDir,
		MirrorDir:         mirrorDir,
		PrimaryBranch:     strings.TrimSpace(v.GetString(KeyPrimaryBranch)),
		SecondaryBranch:   strings.TrimSpace(secondaryBranch),
		PrimaryBase:       strings.TrimSpace(v.GetString(KeyPrimaryBase)),
		SecondaryBase:     strings.TrimSpace(v.GetString(KeySecondaryBase)),
		Manual:            v.GetBool(KeyManual),
		IgnoreConsistency: v.GetBool(KeyIgnoreConsistency),
		KeepWorkdir:       v.GetBool(KeyKeepWorkdir),
		SignatureWindow:   v.GetInt(KeySignatureWindow),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Worktrees and -C invocations need stable paths regardless of the
	// process working directory.
	var err error
	if cfg.SourceDir, err = filepath.Abs(cfg.SourceDir); err != nil {
		return nil, &ValidationError{Field: "source", Message: err.Error()}
	}
	if cfg.MirrorDir, err = filepath.Abs(cfg.MirrorDir); err != nil {
		return nil, &ValidationError{Field: "mirror", Message: err.Error()}
	}
	return cfg, nil
}

// Validate checks the assembled configuration. The first problem found is
// returned as a ValidationError naming the offending field.
func (c *Config) Validate() error {
	if err := validateDir("source", c.SourceDir); err != nil {
		return err
	}
	if err := validateDir("mirror", c.MirrorDir); err != nil {
		return err
	}

	srcAbs, err1 := filepath.Abs(c.SourceDir)
	mirAbs, err2 := filepath.Abs(c.MirrorDir)
	if err1 == nil && err2 == nil && srcAbs == mirAbs {
		return &ValidationError{Field: "mirror", Message: "source and mirror are the same directory"}
	}

	if c.SecondaryBranch == "" {
		return &ValidationError{Field: "secondary-branch", Message: "required"}
	}
	if strings.ContainsAny(c.SecondaryBranch, " \t\n") {
		return &ValidationError{Field: "secondary-branch", Message: fmt.Sprintf("%q contains whitespace", c.SecondaryBranch)}
	}
	if c.PrimaryBranch != "" && c.PrimaryBranch == c.SecondaryBranch {
		return &ValidationError{Field: "secondary-branch", Message: "primary and secondary branches are the same"}
	}

	if strings.ContainsAny(c.PrimaryBase, " \t\n") {
		return &ValidationError{Field: KeyPrimaryBase, Message: fmt.Sprintf("%q contains whitespace", c.PrimaryBase)}
	}
	if strings.ContainsAny(c.SecondaryBase, " \t\n") {
		return &ValidationError{Field: KeySecondaryBase, Message: fmt.Sprintf("%q contains whitespace", c.SecondaryBase)}
	}

	if c.SignatureWindow <= 0 {
		return &ValidationError{Field: KeySignatureWindow, Message: fmt.Sprintf("%d is not a positive window", c.SignatureWindow)}
	}
	return nil
}

func validateDir(field, dir string) error {
	if dir == "" {
		return &ValidationError{Field: field, Message: "required"}
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s does not exist", dir)}
	}
	if err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	if !info.IsDir() {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s is not a directory", dir)}
	}
	return nil
}
