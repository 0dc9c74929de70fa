// Package catalog serves the variant read model and validates typed variant
// options against their product line schema.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/money"
	"github.com/noah-isme/atomic-shop/internal/store"
)

var (
	// ErrVariantNotFound is returned when a variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrProductLineNotFound is returned when a variant references an unknown product line.
	ErrProductLineNotFound = errors.New("product line not found")
)

type queryProvider interface {
	GetVariant(ctx context.Context, id uuid.UUID) (store.Variant, error)
	CreateVariant(ctx context.Context, arg store.CreateVariantParams) (store.Variant, error)
	GetProductLine(ctx context.Context, code string) (store.ProductLine, error)
	UpsertProductLine(ctx context.Context, arg store.UpsertProductLineParams) (store.ProductLine, error)
}

// Variant is the public read model of a purchasable variant.
type Variant struct {
	ID             string   `json:"id"`
	ProductLine    string   `json:"productLine"`
	SKU            string   `json:"sku"`
	Name           string   `json:"name"`
	PriceCents     int64    `json:"priceCents"`
	FormattedPrice string   `json:"formattedPrice"`
	StockQuantity  int      `json:"stockQuantity"`
	InStock        bool     `json:"inStock"`
	LowStock       bool     `json:"lowStock"`
	WeightKg       *float64 `json:"weightKg,omitempty"`
	Options        Options  `json:"options"`
}

// NewVariant describes a variant to create.
type NewVariant struct {
	ID            uuid.UUID
	ProductLine   string
	SKU           string
	Name          string
	PriceCents    int64
	StockQuantity int
	WeightKg      *float64
	Options       Options
}

// Service reads variants through an optional Redis cache.
type Service struct {
	Q                 queryProvider
	Cache             *Cache
	LowStockThreshold int
	Log               *zerolog.Logger

	group singleflight.Group
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries           queryProvider
	Cache             *Cache
	LowStockThreshold int
	Logger            *zerolog.Logger
}

// NewService validates cfg and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries provider is required")
	}
	threshold := cfg.LowStockThreshold
	if threshold <= 0 {
		threshold = inventory.DefaultLowStockThreshold
	}
	return &Service{Q: cfg.Queries, Cache: cfg.Cache, LowStockThreshold: threshold, Log: cfg.Logger}, nil
}

func (s *Service) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	l := zerolog.Nop()
	return &l
}

// GetVariant returns a variant by id. Concurrent misses for the same id share one store read.
func (s *Service) GetVariant(ctx context.Context, id uuid.UUID) (Variant, error) {
	key := variantCacheKey(id.String())
	var cached Variant
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger().Warn().Err(err).Str("variant_id", id.String()).Msg("variant cache read failed")
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		row, err := s.Q.GetVariant(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
			}
			return nil, err
		}
		view, err := s.toVariant(row)
		if err != nil {
			return nil, err
		}
		if err := s.Cache.SetJSON(ctx, key, view); err != nil {
			s.logger().Warn().Err(err).Str("variant_id", id.String()).Msg("variant cache write failed")
		}
		return view, nil
	})
	if err != nil {
		return Variant{}, err
	}
	return v.(Variant), nil
}

// Invalidate drops the cached copy of a variant.
func (s *Service) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, variantCacheKey(id.String()))
	}
	if err := s.Cache.Delete(ctx, keys...); err != nil {
		s.logger().Warn().Err(err).Msg("variant cache invalidation failed")
	}
}

// UpsertProductLine stores a product line and its option schema.
func (s *Service) UpsertProductLine(ctx context.Context, code, name string, schema OptionSchema) (store.ProductLine, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return store.ProductLine{}, errors.New("catalog: product line code is required")
	}
	if schema == nil {
		schema = OptionSchema{}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return store.ProductLine{}, err
	}
	return s.Q.UpsertProductLine(ctx, store.UpsertProductLineParams{Code: code, Name: name, OptionSchema: raw})
}

// CreateVariant validates options against the product line schema and stores the variant.
func (s *Service) CreateVariant(ctx context.Context, nv NewVariant) (Variant, error) {
	if nv.PriceCents < 0 || nv.StockQuantity < 0 {
		return Variant{}, errors.New("catalog: price and stock must be non-negative")
	}
	line, err := s.Q.GetProductLine(ctx, nv.ProductLine)
	if err != nil {
		if store.IsNotFound(err) {
			return Variant{}, fmt.Errorf("%w: %s", ErrProductLineNotFound, nv.ProductLine)
		}
		return Variant{}, err
	}
	schema, err := ParseSchema(line.OptionSchema)
	if err != nil {
		return Variant{}, err
	}
	opts, err := schema.Validate(nv.Options)
	if err != nil {
		return Variant{}, err
	}
	rawOpts, err := json.Marshal(opts)
	if err != nil {
		return Variant{}, err
	}
	id := nv.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var weight pgtype.Float8
	if nv.WeightKg != nil {
		weight = pgtype.Float8{Float64: *nv.WeightKg, Valid: true}
	}
	row, err := s.Q.CreateVariant(ctx, store.CreateVariantParams{
		ID:            id,
		ProductLine:   line.Code,
		SKU:           strings.TrimSpace(nv.SKU),
		Name:          strings.TrimSpace(nv.Name),
		PriceCents:    nv.PriceCents,
		StockQuantity: int32(nv.StockQuantity),
		WeightKg:      weight,
		Options:       rawOpts,
	})
	if err != nil {
		return Variant{}, err
	}
	return s.toVariant(row)
}

func (s *Service) toVariant(row store.Variant) (Variant, error) {
	opts, err := ParseOptions(row.Options)
	if err != nil {
		return Variant{}, err
	}
	stock := int(row.StockQuantity)
	v := Variant{
		ID:             row.ID.String(),
		ProductLine:    row.ProductLine,
		SKU:            row.SKU,
		Name:           row.Name,
		PriceCents:     row.PriceCents,
		FormattedPrice: money.Format(row.PriceCents),
		StockQuantity:  stock,
		InStock:        inventory.InStock(stock),
		LowStock:       inventory.LowStock(stock, s.LowStockThreshold),
		Options:        opts,
	}
	if row.WeightKg.Valid {
		w := row.WeightKg.Float64
		v.WeightKg = &w
	}
	return v, nil
}
