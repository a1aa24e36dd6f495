package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration unmarshals either a Go duration string ("5m") or integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x))
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// fileConfig is the JSON shape of Config. It is pre-filled from the current
// Config so keys absent from the file keep their value.
type fileConfig struct {
	ListenAddr string `json:"listen_addr"`
	TLSCert    string `json:"tls_cert"`
	TLSKey     string `json:"tls_key"`
	Dev        bool   `json:"dev"`

	DSN     string `json:"database_dsn"`
	Migrate bool   `json:"migrate"`

	BlobBackend string `json:"blob_backend"`
	StorageDir  string `json:"storage_dir"`
	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_base_endpoint"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`

	MaxFileSize      int64    `json:"max_file_size"`
	AllowedTypes     []string `json:"allowed_types"`
	VerifyChecksum   bool     `json:"verify_checksum"`
	OperationTimeout Duration `json:"operation_timeout"`

	MasterKeyHex     string `json:"master_key_hex"`
	MasterPassphrase string `json:"master_passphrase"`
	MasterSalt       string `json:"master_salt"`
	RSAKeyFile       string `json:"rsa_key_file"`

	MaxMembers         int      `json:"max_members"`
	MaxFiles           int      `json:"max_files"`
	JoinTokenTTL       Duration `json:"join_token_ttl"`
	MaxJoinTokens      int      `json:"max_join_tokens"`
	TokenSweepInterval Duration `json:"token_sweep_interval"`

	JoinMaxFails   int      `json:"join_max_fails"`
	JoinFailWindow Duration `json:"join_fail_window"`
	JoinBlockFor   Duration `json:"join_block_for"`

	MaxTransfers          int      `json:"max_transfers"`
	TransferRetention     Duration `json:"transfer_retention"`
	TransferSweepInterval Duration `json:"transfer_sweep_interval"`

	PeerSweepInterval   Duration `json:"peer_sweep_interval"`
	ActivityWindow      Duration `json:"activity_window"`
	InactivityThreshold Duration `json:"inactivity_threshold"`
}

func toFile(c *Config) fileConfig {
	return fileConfig{
		ListenAddr: c.ListenAddr, TLSCert: c.TLSCert, TLSKey: c.TLSKey, Dev: c.Dev,
		DSN: c.DSN, Migrate: c.Migrate,
		BlobBackend: c.BlobBackend, StorageDir: c.StorageDir,
		S3Bucket: c.S3Bucket, S3Region: c.S3Region, S3Endpoint: c.S3Endpoint,
		S3AccessKey: c.S3AccessKey, S3SecretKey: c.S3SecretKey,
		MaxFileSize: c.MaxFileSize, AllowedTypes: c.AllowedTypes,
		VerifyChecksum: c.VerifyChecksum, OperationTimeout: Duration(c.OperationTimeout),
		MasterKeyHex: c.MasterKeyHex, MasterPassphrase: c.MasterPassphrase,
		MasterSalt: c.MasterSalt, RSAKeyFile: c.RSAKeyFile,
		MaxMembers: c.MaxMembers, MaxFiles: c.MaxFiles,
		JoinTokenTTL: Duration(c.JoinTokenTTL), MaxJoinTokens: c.MaxJoinTokens,
		TokenSweepInterval: Duration(c.TokenSweepInterval),
		JoinMaxFails:       c.JoinMaxFails, JoinFailWindow: Duration(c.JoinFailWindow),
		JoinBlockFor: Duration(c.JoinBlockFor),
		MaxTransfers:       c.MaxTransfers, TransferRetention: Duration(c.TransferRetention),
		TransferSweepInterval: Duration(c.TransferSweepInterval),
		PeerSweepInterval:     Duration(c.PeerSweepInterval),
		ActivityWindow:        Duration(c.ActivityWindow),
		InactivityThreshold:   Duration(c.InactivityThreshold),
	}
}

func (f *fileConfig) apply(c *Config) {
	c.ListenAddr, c.TLSCert, c.TLSKey, c.Dev = f.ListenAddr, f.TLSCert, f.TLSKey, f.Dev
	c.DSN, c.Migrate = f.DSN, f.Migrate
	c.BlobBackend, c.StorageDir = f.BlobBackend, f.StorageDir
	c.S3Bucket, c.S3Region, c.S3Endpoint = f.S3Bucket, f.S3Region, f.S3Endpoint
	c.S3AccessKey, c.S3SecretKey = f.S3AccessKey, f.S3SecretKey
	c.MaxFileSize, c.AllowedTypes = f.MaxFileSize, f.AllowedTypes
	c.VerifyChecksum, c.OperationTimeout = f.VerifyChecksum, time.Duration(f.OperationTimeout)
	c.MasterKeyHex, c.MasterPassphrase, c.MasterSalt = f.MasterKeyHex, f.MasterPassphrase, f.MasterSalt
	c.RSAKeyFile = f.RSAKeyFile
	c.MaxMembers, c.MaxFiles = f.MaxMembers, f.MaxFiles
	c.JoinTokenTTL, c.MaxJoinTokens = time.Duration(f.JoinTokenTTL), f.MaxJoinTokens
	c.TokenSweepInterval = time.Duration(f.TokenSweepInterval)
	c.JoinMaxFails, c.JoinFailWindow = f.JoinMaxFails, time.Duration(f.JoinFailWindow)
	c.JoinBlockFor = time.Duration(f.JoinBlockFor)
	c.MaxTransfers, c.TransferRetention = f.MaxTransfers, time.Duration(f.TransferRetention)
	c.TransferSweepInterval = time.Duration(f.TransferSweepInterval)
	c.PeerSweepInterval = time.Duration(f.PeerSweepInterval)
	c.ActivityWindow = time.Duration(f.ActivityWindow)
	c.InactivityThreshold = time.Duration(f.InactivityThreshold)
}

// LoadJSON overlays the keys present in the file at path onto c.
func LoadJSON(c *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	f := toFile(c)
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	f.apply(c)
	return nil
}
