package catalog

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/chanrelay/internal/store"
)

// OutputFormat specifies how to format the collection list.
type OutputFormat string

const (
	// OutputFormatDefault is a table.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSONL is one JSON object per collection per line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Reader is the read side of the routing store.
type Reader interface {
	ListCollections(ctx context.Context, owner string) ([]store.Collection, error)
	ListAllCollections(ctx context.Context) ([]store.Collection, error)
	ListMembers(ctx context.Context, collectionID string) ([]string, error)
	GetCollection(ctx context.Context, id string) (*store.Collection, error)
}

// ListCollections writes the owner's collections, or every owner's when all is set.
func ListCollections(ctx context.Context, r Reader, owner string, all bool, instanceName string, format OutputFormat, w io.Writer) error {
	var (
		collections []store.Collection
		err         error
	)
	if all {
		collections, err = r.ListAllCollections(ctx)
	} else {
		collections, err = r.ListCollections(ctx, owner)
	}
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, collections, instanceName)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, collections); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// ShowCollection writes one collection with its members.
func ShowCollection(ctx context.Context, r Reader, collectionID string, w io.Writer) error {
	c, err := r.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	members, err := r.ListMembers(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}
	if members == nil {
		members = []string{}
	}
	return FormatDetail(w, &Detail{Collection: *c, Members: members})
}
