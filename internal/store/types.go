package store

import (
	"time"

	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// Library mirrors the combined libraries/sync_libraries rows: identity plus
// the per-library sync watermarks and policy.
type Library struct {
	ID                int64
	Kind              zoteroapi.LibraryKind
	Data              []byte // opaque JSON: group metadata or user profile
	Deleted           bool
	Version           int
	ItemVersion       int
	CollectionVersion int
	TagVersion        int
	Direction         zoteroapi.Direction
	SyncTags          bool
	Active            bool
	OutgoingSync      OutgoingSync
	IsModified        bool
	ModifiedAt        *time.Time
}

// OutgoingSync selects whether a library's local mutations are pushed by
// the batch engine only, or also queued for the event-driven worker.
type OutgoingSync string

const (
	OutgoingBatch        OutgoingSync = "batch"
	OutgoingEventDriven  OutgoingSync = "event_driven"
)

// Ref returns the zoteroapi.LibraryRef for API calls scoped to this library.
func (l Library) Ref() zoteroapi.LibraryRef {
	return zoteroapi.LibraryRef{ID: l.ID, Kind: l.Kind}
}

// Collection mirrors one row of the collections table.
type Collection struct {
	Key        string
	LibraryID  int64
	Kind       zoteroapi.LibraryKind
	Version    int
	Data       []byte
	Meta       []byte
	Deleted    bool
	SyncStatus zoteroapi.SyncStatus
	UpdatedAt  time.Time
}

// Item mirrors one row of the items table.
type Item struct {
	Key        string
	LibraryID  int64
	Kind       zoteroapi.LibraryKind
	Version    int
	Data       []byte
	Meta       []byte
	Trashed    bool
	Deleted    bool
	SyncStatus zoteroapi.SyncStatus
	MD5        string
	UpdatedAt  time.Time
}

// Tag mirrors one row of the tags table.
type Tag struct {
	Tag       string
	LibraryID int64
	Kind      zoteroapi.LibraryKind
	Type      int
	NumItems  int
}

// SyncQueueEntry mirrors one row of the sync_queue table.
type SyncQueueEntry struct {
	ID           int64
	EntityType   string
	EntityKey    string
	LibraryID    int64
	Kind         zoteroapi.LibraryKind
	Operation    string
	Priority     int
	RetryCount   int
	MaxRetries   int
	NextRetryAt  time.Time
	LastError    string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}
