package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var digitsPattern = regexp.MustCompile(`^[0-9]+$`)

var slugUnsafeRun = regexp.MustCompile(`[^a-z0-9]+`)

// IdentifierResolver maps any of {uuid, name, slug, numeric-id} onto the
// single authoritative Dataset record.
type IdentifierResolver struct {
	datasets repository.DatasetRepository
}

func NewIdentifierResolver(datasets repository.DatasetRepository) *IdentifierResolver {
	return &IdentifierResolver{datasets: datasets}
}

// Resolve applies the ordered heuristic: canonical UUID form, then purely
// numeric, then slug, then name (ambiguous name matches are rejected
// rather than guessed at).
func (r *IdentifierResolver) Resolve(ctx context.Context, identifier string) (*domain.Dataset, error) {
	switch {
	case uuidPattern.MatchString(identifier):
		id, err := uuid.Parse(identifier)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed uuid", apperr.ErrValidation)
		}
		return r.wrapNotFound(r.datasets.GetByUUID(ctx, id))

	case digitsPattern.MatchString(identifier):
		n, err := strconv.ParseInt(identifier, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed numeric id", apperr.ErrValidation)
		}
		return r.wrapNotFound(r.datasets.GetByNumericID(ctx, n))

	default:
		if d, err := r.wrapNotFound(r.datasets.GetBySlug(ctx, identifier)); err == nil {
			return d, nil
		}
		matches, err := r.datasets.FindByName(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		switch len(matches) {
		case 0:
			return nil, apperr.ErrNotFound
		case 1:
			return matches[0], nil
		default:
			return nil, apperr.ErrAmbiguousIdentifier
		}
	}
}

// ResolveScoped is Resolve with the name step limited to the given owner:
// uuid, numeric-id and slug identifiers resolve as in Resolve, while a name
// is looked up only among ownerEmail's datasets.
func (r *IdentifierResolver) ResolveScoped(ctx context.Context, identifier, ownerEmail string) (*domain.Dataset, error) {
	if uuidPattern.MatchString(identifier) || digitsPattern.MatchString(identifier) {
		return r.Resolve(ctx, identifier)
	}
	if d, err := r.wrapNotFound(r.datasets.GetBySlug(ctx, identifier)); err == nil {
		return d, nil
	}
	return r.wrapNotFound(r.datasets.GetByOwnerAndName(ctx, ownerEmail, identifier))
}

func (r *IdentifierResolver) wrapNotFound(d *domain.Dataset, err error) (*domain.Dataset, error) {
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return d, nil
}

// DeriveSlug builds the URL-safe identifier: lowercase the name, collapse
// non-alphanumeric runs to single hyphens, trim leading/trailing hyphens,
// prefix with the first segment of the owner's email, suffix with the
// four-digit year, then disambiguate with -2, -3...
func DeriveSlug(ctx context.Context, datasets repository.DatasetRepository, name, ownerEmail string, year int) (string, error) {
	base := strings.ToLower(name)
	base = slugUnsafeRun.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")

	ownerPrefix := ownerEmail
	if at := strings.IndexByte(ownerEmail, '@'); at >= 0 {
		ownerPrefix = ownerEmail[:at]
	}
	ownerPrefix = slugUnsafeRun.ReplaceAllString(strings.ToLower(ownerPrefix), "-")
	ownerPrefix = strings.Trim(ownerPrefix, "-")

	root := fmt.Sprintf("%s-%s-%d", ownerPrefix, base, year)
	candidate := root
	for suffix := 2; ; suffix++ {
		exists, err := datasets.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", root, suffix)
	}
}
