package zoteroapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LibraryKind distinguishes a personal library from a group library, the
// tagged variant used throughout instead of separate user/group types.
type LibraryKind string

const (
	KindUser  LibraryKind = "user"
	KindGroup LibraryKind = "group"
)

// scopePath returns the URL path segment selecting this library's scope,
// e.g. "users/123" or "groups/456".
func (k LibraryKind) scopePath(id int64) string {
	switch k {
	case KindGroup:
		return fmt.Sprintf("groups/%d", id)
	default:
		return fmt.Sprintf("users/%d", id)
	}
}

// Direction is the per-library conflict policy.
type Direction string

const (
	DirectionNone        Direction = "none"
	DirectionToCloud     Direction = "to_cloud"
	DirectionToLocal     Direction = "to_local"
	DirectionBothCloud   Direction = "both_cloud"
	DirectionBothLocal   Direction = "both_local"
	DirectionBothManual  Direction = "both_manual"
)

// CanUpload reports whether this direction permits local-to-remote writes.
func (d Direction) CanUpload() bool {
	switch d {
	case DirectionToCloud, DirectionBothCloud, DirectionBothLocal, DirectionBothManual:
		return true
	default:
		return false
	}
}

// CanDownload reports whether this direction permits remote-to-local writes.
func (d Direction) CanDownload() bool {
	switch d {
	case DirectionToLocal, DirectionBothCloud, DirectionBothLocal, DirectionBothManual:
		return true
	default:
		return false
	}
}

// SyncStatus is the per-entity marker of local modification state.
type SyncStatus string

const (
	StatusNew        SyncStatus = "new"
	StatusModified   SyncStatus = "modified"
	StatusSynced     SyncStatus = "synced"
	StatusIncomplete SyncStatus = "incomplete"
)

// Creator is one author/editor/contributor entry on an item.
type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// ParentCollection decodes the upstream API's "parent collection or false"
// encoding: a collection/item with no parent reports JSON false instead of
// null or an absent field. Absent, null, and false all mean "no parent";
// any string means the parent's key.
type ParentCollection struct {
	Key   string
	Valid bool
}

func (p *ParentCollection) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.Equal(trimmed, []byte("null")), bytes.Equal(trimmed, []byte("false")):
		*p = ParentCollection{}
		return nil
	default:
		var key string
		if err := json.Unmarshal(data, &key); err != nil {
			return fmt.Errorf("zoteroapi: decoding parent collection: %w", err)
		}

		*p = ParentCollection{Key: key, Valid: key != ""}

		return nil
	}
}

func (p ParentCollection) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("false"), nil
	}

	return json.Marshal(p.Key)
}

// CollectionData is the wire body of a collection.
type CollectionData struct {
	Key              string           `json:"key"`
	Version          int              `json:"version"`
	Name             string           `json:"name"`
	ParentCollection ParentCollection `json:"parentCollection"`
	Relations        map[string]any   `json:"relations,omitempty"`
}

// CollectionMeta carries server-computed counts.
type CollectionMeta struct {
	NumCollections int `json:"numCollections"`
	NumItems       int `json:"numItems"`
}

// Collection is a fetched collection resource (data + meta + LMV envelope).
type Collection struct {
	Key     string         `json:"key"`
	Version int            `json:"version"`
	Data    CollectionData `json:"data"`
	Meta    CollectionMeta `json:"meta"`
}

// ItemData is the wire body of an item. Zotero item types carry arbitrary
// type-specific fields alongside the common ones; ExtraFields preserves
// those for round-trip fidelity on upload.
type ItemData struct {
	Key              string           `json:"key"`
	Version          int              `json:"version"`
	ItemType         string           `json:"itemType"`
	Title            string           `json:"title,omitempty"`
	Creators         []Creator        `json:"creators,omitempty"`
	Date             string           `json:"date,omitempty"`
	Tags             []TagRef         `json:"tags,omitempty"`
	Collections      []string         `json:"collections,omitempty"`
	Relations        map[string]any   `json:"relations,omitempty"`
	ParentItem       string           `json:"parentItem,omitempty"`
	LinkMode         string           `json:"linkMode,omitempty"`
	Filename         string           `json:"filename,omitempty"`
	MD5              string           `json:"md5,omitempty"`
	MTime            int64            `json:"mtime,omitempty"`
	ContentType      string           `json:"contentType,omitempty"`
	ExtraFields      map[string]any   `json:"-"`
}

// TagRef is a tag attached to an item (as opposed to a library-level Tag).
type TagRef struct {
	Tag  string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

// knownItemFields lists the ItemData struct tags that MarshalJSON/UnmarshalJSON
// handle explicitly; everything else round-trips through ExtraFields.
var knownItemFields = map[string]bool{
	"key": true, "version": true, "itemType": true, "title": true,
	"creators": true, "date": true, "tags": true, "collections": true,
	"relations": true, "parentItem": true, "linkMode": true, "filename": true,
	"md5": true, "mtime": true, "contentType": true,
}

func (i ItemData) MarshalJSON() ([]byte, error) {
	type alias ItemData

	// Marshal the known fields via the aliased struct, then merge in the
	// extra fields map so arbitrary type-specific keys survive the round trip.
	known, err := json.Marshal(alias(i))
	if err != nil {
		return nil, fmt.Errorf("zoteroapi: marshaling item data: %w", err)
	}

	if len(i.ExtraFields) == 0 {
		return known, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, fmt.Errorf("zoteroapi: remarshaling item data: %w", err)
	}

	for k, v := range i.ExtraFields {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}

func (i *ItemData) UnmarshalJSON(data []byte) error {
	type alias ItemData

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("zoteroapi: decoding item data: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("zoteroapi: decoding item data extras: %w", err)
	}

	extras := make(map[string]any)

	for k, v := range raw {
		if !knownItemFields[k] {
			extras[k] = v
		}
	}

	*i = ItemData(a)
	i.ExtraFields = extras

	return nil
}

// ItemMeta carries server-computed metadata about an item.
type ItemMeta struct {
	CreatedByUser   *UserData `json:"createdByUser,omitempty"`
	CreatorSummary  string    `json:"creatorSummary,omitempty"`
	ParsedDate      string    `json:"parsedDate,omitempty"`
	NumChildren     int       `json:"numChildren,omitempty"`
}

// Item is a fetched item resource.
type Item struct {
	Key     string   `json:"key"`
	Version int      `json:"version"`
	Data    ItemData `json:"data"`
	Meta    ItemMeta `json:"meta"`
}

// TagData is a library-level tag resource.
type TagData struct {
	Tag  string  `json:"tag"`
	Type int     `json:"type"`
	Meta TagMeta `json:"meta"`
}

// TagMeta carries the tag's item count.
type TagMeta struct {
	NumItems int `json:"numItems"`
}

// Deletions is the payload of deletions_since. Searches and settings are
// decoded for completeness (the upstream original reports them) but have
// no local mirror representation, so callers only act on Collections,
// Items, and Tags.
type Deletions struct {
	Collections []string `json:"collections"`
	Items       []string `json:"items"`
	Tags        []string `json:"tags"`
	Searches    []string `json:"searches"`
	Settings    []string `json:"settings"`
}

// GroupData describes a group library's metadata.
type GroupData struct {
	ID      int64          `json:"id"`
	Version int            `json:"version"`
	Name    string         `json:"name"`
	Owner   int64          `json:"owner"`
	Type    string         `json:"type"`
	Extra   map[string]any `json:"-"`
}

// UserData identifies a Zotero user.
type UserData struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// APIKeyAccessLibrary describes the access grant for one library.
type APIKeyAccessLibrary struct {
	Library bool `json:"library"`
	Write   bool `json:"write"`
	Notes   bool `json:"notes,omitempty"`
}

// APIKeyAccess describes what the configured API key can see and write.
type APIKeyAccess struct {
	User   APIKeyAccessLibrary            `json:"user"`
	Groups map[string]APIKeyAccessLibrary `json:"groups"`
}

// APIKeyInfo is the response of key_info.
type APIKeyInfo struct {
	Key      string       `json:"key"`
	UserID   int64        `json:"userID"`
	Username string       `json:"username"`
	Access   APIKeyAccess `json:"access"`
}

// UploadAuthorization is the transient result of request_upload_auth: either
// the file already exists server-side, or a set of multipart-upload
// parameters the caller must POST to.
type UploadAuthorization struct {
	Exists     bool
	URL        string
	UploadKey  string
	Params     map[string]string
	Prefix     string
	Suffix     string
}
