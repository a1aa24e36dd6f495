// Package config assembles server settings from defaults, an optional JSON
// file and command-line flags, in that order of precedence.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharevault/internal/crypto"
)

// Blob backends.
const (
	BlobDisk = "disk"
	BlobS3   = "s3"
)

// Config holds runtime settings for the server.
type Config struct {
	ListenAddr string
	TLSCert    string
	TLSKey     string
	Dev        bool

	// DSN selects Postgres repositories; empty keeps everything in memory.
	DSN     string
	Migrate bool

	BlobBackend string
	StorageDir  string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	MaxFileSize      int64
	AllowedTypes     []string
	VerifyChecksum   bool
	OperationTimeout time.Duration

	MasterKeyHex     string
	MasterPassphrase string
	MasterSalt       string
	RSAKeyFile       string

	MaxMembers         int
	MaxFiles           int
	JoinTokenTTL       time.Duration
	MaxJoinTokens      int
	TokenSweepInterval time.Duration

	// JoinMaxFails bad join tokens per JoinFailWindow block a user for
	// JoinBlockFor; 0 disables throttling.
	JoinMaxFails   int
	JoinFailWindow time.Duration
	JoinBlockFor   time.Duration

	MaxTransfers          int
	TransferRetention     time.Duration
	TransferSweepInterval time.Duration

	PeerSweepInterval   time.Duration
	ActivityWindow      time.Duration
	InactivityThreshold time.Duration
}

// Default returns development defaults: in-memory metadata, blobs on disk.
func Default() *Config {
	return &Config{
		ListenAddr:            ":8443",
		Migrate:               true,
		BlobBackend:           BlobDisk,
		StorageDir:            "./data/blobs",
		S3Region:              "us-east-1",
		MaxFileSize:           100 << 20,
		VerifyChecksum:        true,
		OperationTimeout:      30 * time.Second,
		JoinTokenTTL:          24 * time.Hour,
		MaxJoinTokens:         10000,
		TokenSweepInterval:    10 * time.Minute,
		JoinMaxFails:          5,
		JoinFailWindow:        15 * time.Minute,
		JoinBlockFor:          15 * time.Minute,
		MaxTransfers:          10000,
		TransferRetention:     time.Hour,
		TransferSweepInterval: 5 * time.Minute,
		PeerSweepInterval:     5 * time.Minute,
		ActivityWindow:        5 * time.Minute,
		InactivityThreshold:   5 * time.Minute,
	}
}

// MinSaltLen is the shortest accepted passphrase salt.
const MinSaltLen = 8

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var list []error
	add := func(format string, a ...any) { list = append(list, fmt.Errorf(format, a...)) }

	if c.ListenAddr == "" {
		add("listen address is empty")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		add("tls cert and key must be set together")
	}
	switch c.BlobBackend {
	case BlobDisk:
		if c.StorageDir == "" {
			add("storage dir is required for the disk backend")
		}
	case BlobS3:
		if c.S3Bucket == "" || c.S3Region == "" {
			add("s3 bucket and region are required for the s3 backend")
		}
	default:
		add("unknown blob backend %q", c.BlobBackend)
	}
	if c.MaxFileSize <= 0 {
		add("max file size must be positive")
	}
	for name, d := range map[string]time.Duration{
		"operation timeout":       c.OperationTimeout,
		"join token ttl":          c.JoinTokenTTL,
		"transfer retention":      c.TransferRetention,
		"transfer sweep interval": c.TransferSweepInterval,
		"peer sweep interval":     c.PeerSweepInterval,
		"activity window":         c.ActivityWindow,
		"inactivity threshold":    c.InactivityThreshold,
		"token sweep interval":    c.TokenSweepInterval,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}
	for name, n := range map[string]int{
		"max members":     c.MaxMembers,
		"max files":       c.MaxFiles,
		"max join tokens": c.MaxJoinTokens,
		"max transfers":   c.MaxTransfers,
		"join max fails":  c.JoinMaxFails,
	} {
		if n < 0 {
			add("%s must not be negative", name)
		}
	}
	if c.JoinMaxFails > 0 && (c.JoinFailWindow <= 0 || c.JoinBlockFor <= 0) {
		add("join fail window and block duration must be positive")
	}
	if _, err := c.MasterKey(); err != nil {
		list = append(list, err)
	}
	return errors.Join(list...)
}

// MasterKey returns the key-wrapping key, or nil when envelope encryption is off.
func (c *Config) MasterKey() ([]byte, error) {
	switch {
	case c.MasterKeyHex != "" && c.MasterPassphrase != "":
		return nil, errors.New("master key: set either hex or passphrase, not both")
	case c.MasterKeyHex != "":
		k, err := hex.DecodeString(c.MasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("master key: %w", err)
		}
		if len(k) != crypto.MasterKeyLen {
			return nil, fmt.Errorf("master key: want %d bytes, got %d", crypto.MasterKeyLen, len(k))
		}
		return k, nil
	case c.MasterPassphrase != "":
		if len(c.MasterSalt) < MinSaltLen {
			return nil, fmt.Errorf("master key: salt must be at least %d bytes", MinSaltLen)
		}
		return crypto.DeriveMasterKey([]byte(c.MasterPassphrase), []byte(c.MasterSalt)), nil
	}
	return nil, nil
}
