package store

import (
	"strings"
	"time"
)

// Timespec is a second/nanosecond timestamp pair. Nsec is always in
// [0, 1e9).
type Timespec struct {
	Sec  int64 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

func NewTimespec(sec int64, nsec int32) Timespec {
	return Timespec{Sec: sec, Nsec: nsec}
}

func TimespecFromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

func Now() Timespec {
	return TimespecFromTime(time.Now())
}

func (t Timespec) Time() time.Time {
	return time.Unix(t.Sec, int64(t.Nsec))
}

type FileType int32

const (
	TypeNamedPipe FileType = iota
	TypeCharDevice
	TypeBlockDevice
	TypeDirectory
	TypeRegularFile
	TypeSymlink
	TypeSocket
)

// HasContent reports whether entities of this type carry a chunk map.
func (ft FileType) HasContent() bool {
	return ft == TypeRegularFile || ft == TypeSymlink
}

type FileStat struct {
	Ino      uint64   `json:"ino"`
	FileType FileType `json:"fileType"`
	Mode     uint32   `json:"mode"`
	Dev      uint32   `json:"dev"`
	Nlink    uint64   `json:"nlink"`
	UID      uint32   `json:"uid"`
	GID      uint32   `json:"gid"`
	Size     uint64   `json:"size"`
	Blocks   uint64   `json:"blocks"`

	Atim Timespec `json:"atim"`
	Mtim Timespec `json:"mtim"`
	Ctim Timespec `json:"ctim"`
}

// HasSize reports whether size/content operations are legal for the
// entity.
func (s *FileStat) HasSize() bool {
	return s.FileType == TypeRegularFile
}

type DirEntity struct {
	ID     string `json:"id"`
	Parent string `json:"parent"`
	Name   string `json:"name"`

	DirentVersion    int64 `json:"direntVersion"`
	ContentVersion   int64 `json:"contentVersion"`
	RetrievedVersion int64 `json:"retrievedVersion"`

	Stat FileStat `json:"stat"`
}

// IsRetrieved reports whether the entity's chunk map has ever been
// fully fetched (client side).
func (d *DirEntity) IsRetrieved() bool {
	return d.RetrievedVersion != 0
}

// IsUpToDate reports whether the locally cached blobs cover the current
// content version.
func (d *DirEntity) IsUpToDate() bool {
	return d.RetrievedVersion == d.ContentVersion
}

// MaxNameLength is the longest permitted dirent name, in bytes.
const MaxNameLength = 512

// ValidateName rejects names that can never appear in the index. The
// empty name is reserved for the root.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\x00") {
		return ErrInvalidName
	}

	return nil
}
