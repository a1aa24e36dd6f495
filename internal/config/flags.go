package config

import (
	"flag"
	"strings"
)

// Load builds a Config from defaults, the JSON file named by -config (if
// any) and the remaining flags, then validates it.
func Load(args []string) (*Config, error) {
	c := Default()
	if path := configPath(args); path != "" {
		if err := LoadJSON(c, path); err != nil {
			return nil, err
		}
	}
	fs := newFlagSet(c)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// configPath finds -config/--config before the full flag set is parsed.
func configPath(args []string) string {
	for i, a := range args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

type listFlag struct{ dst *[]string }

func (l listFlag) String() string {
	if l.dst == nil {
		return ""
	}
	return strings.Join(*l.dst, ",")
}

func (l listFlag) Set(s string) error {
	*l.dst = nil
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l.dst = append(*l.dst, p)
		}
	}
	return nil
}

func newFlagSet(c *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("sharevault", flag.ContinueOnError)
	fs.String("config", "", "JSON config file")

	fs.StringVar(&c.ListenAddr, "addr", c.ListenAddr, "listen address")
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "TLS certificate (PEM); empty serves plaintext")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "TLS private key (PEM)")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "development logging and server reflection")

	fs.StringVar(&c.DSN, "dsn", c.DSN, "PostgreSQL DSN; empty keeps metadata in memory")
	fs.BoolVar(&c.Migrate, "migrate", c.Migrate, "apply migrations on startup")

	fs.StringVar(&c.BlobBackend, "blob", c.BlobBackend, "blob backend: disk or s3")
	fs.StringVar(&c.StorageDir, "storage-dir", c.StorageDir, "blob directory for the disk backend")
	fs.StringVar(&c.S3Bucket, "s3-bucket", c.S3Bucket, "S3 bucket")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", c.S3Endpoint, "S3 base endpoint (MinIO)")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", c.S3AccessKey, "S3 access key")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", c.S3SecretKey, "S3 secret key")

	fs.Int64Var(&c.MaxFileSize, "max-file-size", c.MaxFileSize, "upload ceiling in bytes")
	fs.Var(listFlag{&c.AllowedTypes}, "allowed-types", "comma-separated content-type allow-list")
	fs.BoolVar(&c.VerifyChecksum, "verify-checksum", c.VerifyChecksum, "verify checksums on load")
	fs.DurationVar(&c.OperationTimeout, "op-timeout", c.OperationTimeout, "store/load deadline")

	fs.StringVar(&c.MasterKeyHex, "master-key", c.MasterKeyHex, "hex master key for wrapping data keys")
	fs.StringVar(&c.MasterPassphrase, "master-passphrase", c.MasterPassphrase, "passphrase to derive the master key")
	fs.StringVar(&c.MasterSalt, "master-salt", c.MasterSalt, "salt for the master passphrase")
	fs.StringVar(&c.RSAKeyFile, "rsa-key", c.RSAKeyFile, "PEM file for the RSA keypair; created if missing")

	fs.IntVar(&c.MaxMembers, "max-members", c.MaxMembers, "members per room (0 = unlimited)")
	fs.IntVar(&c.MaxFiles, "max-files", c.MaxFiles, "shared files per room (0 = unlimited)")
	fs.DurationVar(&c.JoinTokenTTL, "token-ttl", c.JoinTokenTTL, "join token lifetime")
	fs.IntVar(&c.MaxJoinTokens, "max-tokens", c.MaxJoinTokens, "live join tokens (0 = unlimited)")
	fs.DurationVar(&c.TokenSweepInterval, "token-sweep", c.TokenSweepInterval, "join token sweep interval")

	fs.IntVar(&c.JoinMaxFails, "join-max-fails", c.JoinMaxFails, "bad join tokens before a block (0 = off)")
	fs.DurationVar(&c.JoinFailWindow, "join-fail-window", c.JoinFailWindow, "window for counting bad join tokens")
	fs.DurationVar(&c.JoinBlockFor, "join-block", c.JoinBlockFor, "block duration after too many bad join tokens")

	fs.IntVar(&c.MaxTransfers, "max-transfers", c.MaxTransfers, "tracked transfers (0 = unlimited)")
	fs.DurationVar(&c.TransferRetention, "transfer-retention", c.TransferRetention, "how long finished transfers are kept")
	fs.DurationVar(&c.TransferSweepInterval, "transfer-sweep", c.TransferSweepInterval, "transfer cleanup interval")

	fs.DurationVar(&c.PeerSweepInterval, "peer-sweep", c.PeerSweepInterval, "peer liveness sweep interval")
	fs.DurationVar(&c.ActivityWindow, "activity-window", c.ActivityWindow, "peer activity window")
	fs.DurationVar(&c.InactivityThreshold, "inactivity", c.InactivityThreshold, "silence before a peer goes offline")
	return fs
}
