// Package model defines domain entities used by services and repositories.
package model

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Algorithm tags the cipher a file was stored with.
type Algorithm string

const (
	AlgNone Algorithm = "NONE"
	AlgAES  Algorithm = "AES"
	AlgRSA  Algorithm = "RSA"
)

// ParseAlgorithm maps a case-insensitive name to an Algorithm. Empty means AES.
func ParseAlgorithm(s string) (Algorithm, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(AlgAES):
		return AlgAES, true
	case string(AlgRSA):
		return AlgRSA, true
	case string(AlgNone):
		return AlgNone, true
	default:
		return "", false
	}
}

// FileRecord is the metadata of a stored blob.
type FileRecord struct {
	ID               uuid.UUID
	Filename         string
	OriginalFilename string
	ContentType      string
	SizeBytes        int64  // plaintext size
	StoragePath      string // blob key in the backing store
	OwnerID          string
	UploadedAt       time.Time
	Checksum         string // hex SHA-256 of plaintext
	Algorithm        Algorithm
	KeyMaterial      []byte // algorithm-specific; wrapped by the master key when KeyWrapped
	KeyWrapped       bool
	Metadata         map[string]string
}

// Upload is a store request.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	OwnerID     string
	Algorithm   Algorithm
	Metadata    map[string]string
}

// AccessLevel controls who may join a room.
type AccessLevel string

const (
	AccessPublic     AccessLevel = "PUBLIC"     // anyone with the link
	AccessRestricted AccessLevel = "RESTRICTED" // approval implied, not enforced
	AccessPrivate    AccessLevel = "PRIVATE"    // owner-only admission
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessPublic, AccessRestricted, AccessPrivate:
		return true
	}
	return false
}

// Room is a named sharing scope. Members and Creators are kept sorted;
// SharedFiles keeps insertion order.
type Room struct {
	ID          uuid.UUID
	Name        string
	OwnerID     string
	Members     []string
	Creators    []string
	SharedFiles []uuid.UUID
	AccessLevel AccessLevel
	CreatedAt   time.Time
}

// NewRoom builds a room with the owner in both members and creators.
func NewRoom(id uuid.UUID, name, ownerID string, level AccessLevel, now time.Time) *Room {
	return &Room{
		ID:          id,
		Name:        name,
		OwnerID:     ownerID,
		Members:     []string{ownerID},
		Creators:    []string{ownerID},
		SharedFiles: []uuid.UUID{},
		AccessLevel: level,
		CreatedAt:   now,
	}
}

// Clone returns a deep copy so callers never alias repository state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Members = slices.Clone(r.Members)
	c.Creators = slices.Clone(r.Creators)
	c.SharedFiles = slices.Clone(r.SharedFiles)
	return &c
}

func (r *Room) IsMember(userID string) bool {
	_, ok := slices.BinarySearch(r.Members, userID)
	return ok
}

func (r *Room) IsCreator(userID string) bool {
	_, ok := slices.BinarySearch(r.Creators, userID)
	return ok
}

func (r *Room) HasFile(fileID uuid.UUID) bool {
	return slices.Contains(r.SharedFiles, fileID)
}

// AddMember inserts userID; false if already present.
func (r *Room) AddMember(userID string) bool {
	var added bool
	r.Members, added = insertSorted(r.Members, userID)
	return added
}

// RemoveMember drops userID from members and creators. The owner is never removed.
func (r *Room) RemoveMember(userID string) bool {
	if userID == r.OwnerID {
		return false
	}
	var removed bool
	r.Members, removed = deleteSorted(r.Members, userID)
	r.Creators, _ = deleteSorted(r.Creators, userID)
	return removed
}

// AddCreator promotes a member; false if not a member or already a creator.
func (r *Room) AddCreator(userID string) bool {
	if !r.IsMember(userID) {
		return false
	}
	var added bool
	r.Creators, added = insertSorted(r.Creators, userID)
	return added
}

// RemoveCreator demotes a creator. The owner is never demoted.
func (r *Room) RemoveCreator(userID string) bool {
	if userID == r.OwnerID {
		return false
	}
	var removed bool
	r.Creators, removed = deleteSorted(r.Creators, userID)
	return removed
}

// AddFile appends fileID; false if already shared.
func (r *Room) AddFile(fileID uuid.UUID) bool {
	if r.HasFile(fileID) {
		return false
	}
	r.SharedFiles = append(r.SharedFiles, fileID)
	return true
}

// RemoveFile drops fileID preserving the order of the rest.
func (r *Room) RemoveFile(fileID uuid.UUID) bool {
	i := slices.Index(r.SharedFiles, fileID)
	if i < 0 {
		return false
	}
	r.SharedFiles = slices.Delete(r.SharedFiles, i, i+1)
	return true
}

func insertSorted(s []string, v string) ([]string, bool) {
	i, ok := slices.BinarySearch(s, v)
	if ok {
		return s, false
	}
	return slices.Insert(s, i, v), true
}

func deleteSorted(s []string, v string) ([]string, bool) {
	i, ok := slices.BinarySearch(s, v)
	if !ok {
		return s, false
	}
	return slices.Delete(s, i, i+1), true
}

// EventType enumerates room notifications.
type EventType string

const (
	EventRoomCreated  EventType = "ROOM_CREATED"
	EventUserJoined   EventType = "USER_JOINED"
	EventUserLeft     EventType = "USER_LEFT"
	EventFileShared   EventType = "FILE_SHARED"
	EventFileUnshared EventType = "FILE_UNSHARED"
	EventRoomDeleted  EventType = "ROOM_DELETED"
)

// RoomEvent is published after a room mutation commits.
type RoomEvent struct {
	Type   EventType
	RoomID uuid.UUID
	UserID string
	FileID uuid.UUID // uuid.Nil when not file-related
	At     time.Time
}

// Peer is a liveness record; one per user.
type Peer struct {
	UserID    string
	IPAddress string
	Port      int
	Online    bool
	LastSeen  time.Time
}

// ConnectionString returns "ip:port".
func (p Peer) ConnectionString() string {
	return net.JoinHostPort(p.IPAddress, strconv.Itoa(p.Port))
}
