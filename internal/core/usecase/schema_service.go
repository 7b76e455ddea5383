package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

// StoreLocator names the database that serves an entity kind in ctx.
type StoreLocator interface {
	Locate(ctx context.Context, kind tenancy.EntityKind) (tenancy.StoreKey, error)
}

// SchemaService manages per-collection JSON schemas of the active tenant and
// validates record data against them.
type SchemaService struct {
	repo    ports.CollectionSchemaRepository
	locator StoreLocator
	cache   sync.Map // key: "store/collection" → *santhosh.Schema
}

func NewSchemaService(repo ports.CollectionSchemaRepository, locator StoreLocator) *SchemaService {
	return &SchemaService{repo: repo, locator: locator}
}

func (s *SchemaService) cacheKey(ctx context.Context, collection string) (string, error) {
	store, err := s.locator.Locate(ctx, tenancy.KindCollectionSchema)
	if err != nil {
		return "", err
	}
	return string(store) + "/" + collection, nil
}

func (s *SchemaService) Upsert(ctx context.Context, collection string, schemaJSON json.RawMessage) (domain.CollectionSchema, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return domain.CollectionSchema{}, err
	}
	if !json.Valid(schemaJSON) {
		return domain.CollectionSchema{}, fmt.Errorf("%w: schema must be valid json", domain.ErrInvalidSchema)
	}
	if err := compilable(schemaJSON); err != nil {
		return domain.CollectionSchema{}, fmt.Errorf("%w: %v", domain.ErrInvalidSchema, err)
	}
	key, err := s.cacheKey(ctx, collection)
	if err != nil {
		return domain.CollectionSchema{}, err
	}
	s.cache.Delete(key)
	return s.repo.Upsert(ctx, domain.CollectionSchema{
		Collection: collection,
		Schema:     schemaJSON,
	})
}

func (s *SchemaService) Get(ctx context.Context, collection string) (domain.CollectionSchema, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return domain.CollectionSchema{}, err
	}
	return s.repo.Get(ctx, collection)
}

func (s *SchemaService) Delete(ctx context.Context, collection string) (bool, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return false, err
	}
	key, err := s.cacheKey(ctx, collection)
	if err != nil {
		return false, err
	}
	s.cache.Delete(key)
	return s.repo.Delete(ctx, collection)
}

// Validate checks data against the collection schema. If no schema is configured
// the data passes validation. Returns *domain.ErrSchemaViolation on failure.
func (s *SchemaService) Validate(ctx context.Context, collection string, data json.RawMessage) error {
	key, err := s.cacheKey(ctx, collection)
	if err != nil {
		return err
	}

	if cached, ok := s.cache.Load(key); ok {
		return runValidation(cached.(*santhosh.Schema), data)
	}

	cs, err := s.repo.Get(ctx, collection)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	compiled, err := compileSchema(cs.Schema)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	s.cache.Store(key, compiled)
	return runValidation(compiled, data)
}

// compileSchema builds a *santhosh.Schema from raw JSON.
func compileSchema(schemaJSON json.RawMessage) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// runValidation validates data against a pre-compiled schema.
func runValidation(sch *santhosh.Schema, data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			msgs := collectValidationErrors(ve)
			return &domain.ErrSchemaViolation{Errors: msgs}
		}
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}

// compilable returns an error if schemaJSON is not a valid JSON Schema document.
func compilable(schemaJSON json.RawMessage) error {
	_, err := compileSchema(schemaJSON)
	return err
}
