// Package resolver turns what an operator types on the CLI (a collection name,
// a full id or a short id prefix) into a collection id.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dyluth/chanrelay/internal/store"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// Lookup is the part of the store the resolver reads.
type Lookup interface {
	ResolveCollectionID(ctx context.Context, owner, name string) (string, bool, error)
	GetCollection(ctx context.Context, id string) (*store.Collection, error)
	ListAllCollections(ctx context.Context) ([]store.Collection, error)
}

// ResolveCollectionID resolves ref in this order:
//  1. a collection named ref in owner's namespace
//  2. a full UUID, which must exist
//  3. a unique id prefix of at least MinShortIDLength characters, across all owners
func ResolveCollectionID(ctx context.Context, l Lookup, owner, ref string) (string, error) {
	if ref == "" {
		return "", &NotFoundError{Ref: ref}
	}

	id, found, err := l.ResolveCollectionID(ctx, owner, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve collection name: %w", err)
	}
	if found {
		return id, nil
	}

	if _, err := uuid.Parse(ref); err == nil {
		if _, err := l.GetCollection(ctx, ref); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", &NotFoundError{Ref: ref}
			}
			return "", fmt.Errorf("failed to verify collection existence: %w", err)
		}
		return ref, nil
	}

	if len(ref) < MinShortIDLength {
		return "", fmt.Errorf("no collection named '%s', and short ID must be at least %d characters (got %d)",
			ref, MinShortIDLength, len(ref))
	}

	all, err := l.ListAllCollections(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for collection: %w", err)
	}
	var matches []string
	for _, c := range all {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Ref: ref}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: ref, Matches: matches}
	}
}

// NotFoundError indicates nothing matched.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no collection found matching '%s'", e.Ref)
}

// AmbiguousError indicates multiple collections matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d collections", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists up to 10 matching ids.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d collections:\n", err.ShortID, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the collection.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
