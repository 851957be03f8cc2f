// Package storage defines the logical persistent model of the DAV core
// (principals, collections, instances, and their derived indexes) and the
// Store interface every request-handling component is written against.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-entity lookups when no row matches.
// Resolver-layer callers translate this into a nil result rather than a
// propagated error: a missing entity is not itself a fatal condition.
var ErrNotFound = errors.New("storage: not found")

type PrincipalType string

const (
	PrincipalUser          PrincipalType = "user"
	PrincipalGroup         PrincipalType = "group"
	PrincipalSystem        PrincipalType = "system"
	PrincipalUnauthed      PrincipalType = "unauthenticated"
	PrincipalResource      PrincipalType = "resource"
)

type Principal struct {
	ID          string
	Slug        string
	Type        PrincipalType
	DisplayName string
	DeletedAt   *time.Time
}

type CollectionType string

const (
	CollectionPlain       CollectionType = "collection"
	CollectionCalendar    CollectionType = "calendar"
	CollectionAddressbook CollectionType = "addressbook"
)

type Collection struct {
	ID           string
	OwnerID      string
	Slug         string
	ParentID     *string
	Type         CollectionType
	DisplayName  string
	Description  string
	Color        string
	SyncToken    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

type Instance struct {
	ID            string
	CollectionID  string
	EntityID      string
	Slug          string
	ContentType   string
	ETag          string
	SyncRevision  int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type EntityType string

const (
	EntityICalendar EntityType = "icalendar"
	EntityVCard     EntityType = "vcard"
)

// Entity is the logical data object an Instance presents. The raw,
// normalized text is kept as the source of truth, with CalIndex/CardIndex
// maintained as a derived, queryable projection rather than fully
// decomposing every property into its own row — see DESIGN.md for the
// rationale behind realizing components/properties/parameters in-memory
// (pkg/ical, pkg/vcard) instead of row-per-property.
type Entity struct {
	ID   string
	Type EntityType
	UID  string
	Data string
}

type Tombstone struct {
	ID           string
	CollectionID string
	URIVariants  []string
	SyncRevision int64
	DeletedAt    time.Time
}

// CalIndex is the derived per-entity index consulted by the filter engine
// for calendar-query time-range and component evaluation.
type CalIndex struct {
	EntityID        string
	ComponentType   string // VEVENT | VTODO | VJOURNAL
	UID             string
	DTStartUTC      *time.Time
	DTEndUTC        *time.Time
	RRuleText       string
	Status          string
	Transp          string
	Summary         string
	SummaryAsciiFold   string
	SummaryUnicodeFold string
}

// CardIndex is the derived per-entity index for addressbook-query.
type CardIndex struct {
	EntityID string
	UID      string
	FN       string
	FNAsciiFold   string
	FNUnicodeFold string
	N             string
	Org           string
	Title         string
	Emails        []string
	Phones        []string
}

// Change is a single sync-collection delta row: either a live instance
// change or — when Deleted — a tombstone surfaced at sync_revision Seq.
type Change struct {
	InstanceID string
	Slug       string
	Deleted    bool
	URIVariants []string
	Seq        int64
}

// PolicyLine is a persisted ACL rule consumed by the authorization core.
type PolicyLine struct {
	ID      string
	Subject string // "principal:<slug>" | "public"
	Pattern string // resource path pattern, may end in "*" or "**"
	Role    string
}

// Store is the persistence seam every core component is written against.
// Concrete backends live in internal/storage/postgres and
// internal/storage/sqlite.
type Store interface {
	Close() error

	// Principals
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	GetPrincipalBySlug(ctx context.Context, slug string) (*Principal, error)
	CreatePrincipal(ctx context.Context, p *Principal) error
	GroupsForPrincipal(ctx context.Context, principalID string) ([]string, error)

	// Collections
	GetCollectionByID(ctx context.Context, id string) (*Collection, error)
	GetCollectionBySlug(ctx context.Context, ownerID string, parentID *string, slug string) (*Collection, error)
	CreateCollection(ctx context.Context, c *Collection) error
	UpdateCollection(ctx context.Context, c *Collection) error
	DeleteCollection(ctx context.Context, id string) error
	ListChildCollections(ctx context.Context, ownerID string, parentID *string) ([]*Collection, error)
	ListInstances(ctx context.Context, collectionID string) ([]*Instance, error)
	BumpSyncToken(ctx context.Context, collectionID string) (int64, error)

	// Instances + entities
	GetInstanceByID(ctx context.Context, id string) (*Instance, error)
	GetInstanceBySlug(ctx context.Context, collectionID, slug string) (*Instance, error)
	GetEntity(ctx context.Context, entityID string) (*Entity, error)
	PutInstance(ctx context.Context, inst *Instance, entity *Entity, cal *CalIndex, card *CardIndex) error
	DeleteInstance(ctx context.Context, instanceID string) error

	// Sync (RFC 6578)
	ListChangesSince(ctx context.Context, collectionID string, sinceSeq int64, limit int) ([]Change, error)

	// Filter engine support
	CalIndexByComponent(ctx context.Context, collectionID string, components []string) ([]*CalIndex, error)
	CardIndexAll(ctx context.Context, collectionID string) ([]*CardIndex, error)
	GetCalIndex(ctx context.Context, entityID string) (*CalIndex, error)

	// Authorization policy
	PolicyLinesForSubjects(ctx context.Context, subjects []string) ([]PolicyLine, error)
}
