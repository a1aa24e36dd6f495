// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., duplicate id).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAccessDenied indicates the caller is not allowed to perform the operation.
	ErrAccessDenied = errors.New("access denied")
)

// File store sentinels.
var (
	// ErrStorage indicates an I/O failure of the blob backend or metadata store.
	ErrStorage = errors.New("storage error")

	// ErrSizeExceeded indicates the upload is larger than the configured maximum.
	ErrSizeExceeded = errors.New("file size exceeded")

	// ErrTypeNotSupported indicates the content type is not on the allow-list.
	ErrTypeNotSupported = errors.New("file type not supported")

	// ErrEncryption indicates the cipher failed while encrypting.
	ErrEncryption = errors.New("encryption error")

	// ErrDecryption indicates malformed ciphertext or a wrong key.
	ErrDecryption = errors.New("decryption error")

	// ErrTransfer indicates an invalid transfer operation or a full transfer table.
	ErrTransfer = errors.New("transfer error")

	// ErrInvalidMetadata indicates missing or malformed upload metadata.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrChecksumMismatch indicates decrypted content does not match the stored checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedAlgorithm indicates an unknown encryption algorithm tag.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// Room sentinels.
var (
	ErrMemberAlreadyExists = errors.New("member already exists")
	ErrMemberNotFound      = errors.New("member not found")
	ErrFileAlreadyShared   = errors.New("file already shared")
	ErrFileNotFoundInRoom  = errors.New("file not found in room")
	ErrMaxMembersExceeded  = errors.New("max members exceeded")
	ErrMaxFilesExceeded    = errors.New("max files exceeded")
	ErrInvalidSettings     = errors.New("invalid room settings")
	ErrDeletion            = errors.New("deletion error")

	// ErrTooManyAttempts indicates the caller is blocked after repeated bad join tokens.
	ErrTooManyAttempts = errors.New("too many attempts")
)

// Peer sentinels.
var (
	// ErrInvalidPeer indicates an empty user id or an out-of-range port.
	ErrInvalidPeer = errors.New("invalid peer")
)
