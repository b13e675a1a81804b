// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package config loads the signer settings from TOML or YAML, applies
// environment overrides and reloads them when the file changes.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/signing"
)

const appDir = "digital-signer"

type Config struct {
	Signing SigningConfig `toml:"signing" yaml:"signing"`
	Preview PreviewConfig `toml:"preview" yaml:"preview"`
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Store   StoreConfig   `toml:"store" yaml:"store"`
	USB     USBConfig     `toml:"usb" yaml:"usb"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

type SigningConfig struct {
	// Mode is "password" (PFX bundle) or "usb_token" (PKCS#11).
	Mode string `toml:"mode" yaml:"mode"`
	// UsePFX selects the PFX bundle in password mode. When false the
	// certificate and private key are read from CertPath and KeyPath.
	UsePFX        bool   `toml:"use_pfx" yaml:"use_pfx"`
	PFXPath       string `toml:"pfx_path" yaml:"pfx_path"`
	CertPath      string `toml:"cert_path" yaml:"cert_path"`
	KeyPath       string `toml:"key_path" yaml:"key_path"`
	PKCS11Library string `toml:"pkcs11_library" yaml:"pkcs11_library"`
	USBSlot       int    `toml:"usb_slot" yaml:"usb_slot"`
	USBCertLabel  string `toml:"usb_cert_label" yaml:"usb_cert_label"`

	SignerName  string `toml:"signer_name" yaml:"signer_name"`
	ContactInfo string `toml:"contact_info" yaml:"contact_info"`
	Location    string `toml:"location" yaml:"location"`

	// Default position for the all-pages and page-range flow, in points.
	DefaultX  float64 `toml:"default_x" yaml:"default_x"`
	DefaultY  float64 `toml:"default_y" yaml:"default_y"`
	BoxWidth  float64 `toml:"box_width" yaml:"box_width"`
	BoxHeight float64 `toml:"box_height" yaml:"box_height"`
}

type PreviewConfig struct {
	Scale    float64 `toml:"scale" yaml:"scale"`
	PDFJSURL string  `toml:"pdfjs_url" yaml:"pdfjs_url"`
}

type ServerConfig struct {
	// Listen must name a loopback host: preview URLs are built from it.
	Listen string `toml:"listen" yaml:"listen"`
	// SessionIdleSec dismisses signing sessions nobody touched for that long.
	SessionIdleSec int `toml:"session_idle_sec" yaml:"session_idle_sec"`
}

type StoreConfig struct {
	Path          string `toml:"path" yaml:"path"`
	RenditionsDir string `toml:"renditions_dir" yaml:"renditions_dir"`
}

type LoggingConfig struct {
	Dir           string `toml:"dir" yaml:"dir"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
	MaxTotalMB    int    `toml:"max_total_mb" yaml:"max_total_mb"`
}

type USBConfig struct {
	// MinRetryMs spaces out hardware-token sign attempts.
	MinRetryMs int `toml:"min_retry_ms" yaml:"min_retry_ms"`
}

func baseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appDir)
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.toml")
}

func DefaultConfig() *Config {
	base := baseDir()
	return &Config{
		Signing: SigningConfig{
			Mode:      "password",
			UsePFX:    true,
			Location:  "India",
			DefaultX:  400,
			DefaultY:  50,
			BoxWidth:  200,
			BoxHeight: 50,
		},
		Preview: PreviewConfig{Scale: 1.5},
		Server:  ServerConfig{Listen: "127.0.0.1:8765", SessionIdleSec: 900},
		Store: StoreConfig{
			Path:          filepath.Join(base, "signer.db"),
			RenditionsDir: filepath.Join(base, "renditions"),
		},
		USB: USBConfig{MinRetryMs: 2000},
		Logging: LoggingConfig{
			Dir:           filepath.Join(base, "logs"),
			RetentionDays: 14,
			MaxTotalMB:    50,
		},
	}
}

// SigningMode parses Signing.Mode.
func (c *Config) SigningMode() signing.Mode {
	m, _ := signing.ParseMode(c.Signing.Mode)
	return m
}

func (c *Config) USBRetryInterval() time.Duration {
	return time.Duration(c.USB.MinRetryMs) * time.Millisecond
}

func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Server.SessionIdleSec) * time.Second
}

func (c *Config) LogOptions() applog.Options {
	return applog.Options{
		Dir:           c.Logging.Dir,
		RetentionDays: c.Logging.RetentionDays,
		MaxTotalMB:    c.Logging.MaxTotalMB,
	}
}

// CheckListen accepts host:port addresses whose host is loopback.
func CheckListen(addr string) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("host %q is not a loopback address", host)
}

// ApplyEnvOverrides lets deployments set secrets and paths without editing the file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DIGITAL_SIGNER_MODE"); v != "" {
		c.Signing.Mode = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_PFX_PATH"); v != "" {
		c.Signing.PFXPath = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_PKCS11_LIBRARY"); v != "" {
		c.Signing.PKCS11Library = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_USB_SLOT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Signing.USBSlot = n
		}
	}
	if v := os.Getenv("DIGITAL_SIGNER_USB_CERT_LABEL"); v != "" {
		c.Signing.USBCertLabel = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_CERT_PATH"); v != "" {
		c.Signing.CertPath = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_KEY_PATH"); v != "" {
		c.Signing.KeyPath = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DIGITAL_SIGNER_LOG_RETENTION_DAYS"))); err == nil {
		c.Logging.RetentionDays = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DIGITAL_SIGNER_LOG_MAX_TOTAL_MB"))); err == nil {
		c.Logging.MaxTotalMB = n
	}
	if v := os.Getenv("DIGITAL_SIGNER_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DIGITAL_SIGNER_RENDITIONS_DIR"); v != "" {
		c.Store.RenditionsDir = v
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidationErrors
	if _, err := signing.ParseMode(c.Signing.Mode); err != nil {
		errs = append(errs, ValidationError{Field: "signing.mode", Message: err.Error()})
	}
	if c.Signing.USBSlot < 0 {
		errs = append(errs, ValidationError{Field: "signing.usb_slot", Message: "must be >= 0"})
	}
	if c.Signing.BoxWidth <= 0 || c.Signing.BoxHeight <= 0 {
		errs = append(errs, ValidationError{Field: "signing.box_width/box_height", Message: "must be positive"})
	}
	if c.Preview.Scale <= 0 || c.Preview.Scale > 5 {
		errs = append(errs, ValidationError{Field: "preview.scale", Message: "must be in (0, 5]"})
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, ValidationError{Field: "server.listen", Message: "required"})
	} else if err := CheckListen(c.Server.Listen); err != nil {
		errs = append(errs, ValidationError{Field: "server.listen", Message: err.Error()})
	}
	if c.Server.SessionIdleSec < 0 {
		errs = append(errs, ValidationError{Field: "server.session_idle_sec", Message: "must be >= 0"})
	}
	if c.Logging.RetentionDays < 0 || c.Logging.RetentionDays > 365 {
		errs = append(errs, ValidationError{Field: "logging.retention_days", Message: "must be in [0, 365]"})
	}
	if c.Logging.MaxTotalMB < 0 || c.Logging.MaxTotalMB > 2048 {
		errs = append(errs, ValidationError{Field: "logging.max_total_mb", Message: "must be in [0, 2048]"})
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, ValidationError{Field: "store.path", Message: "required"})
	}
	if c.USB.MinRetryMs < 0 {
		errs = append(errs, ValidationError{Field: "usb.min_retry_ms", Message: "must be >= 0"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
