package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/atomic-shop/internal/catalog"
	"github.com/noah-isme/atomic-shop/internal/store"
)

type seedVariant struct {
	sku    string
	name   string
	price  int64
	stock  int
	weight float64
	size   string
	color  string
}

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := store.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	svc, err := catalog.NewService(catalog.ServiceConfig{Queries: store.NewDB(pool), Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("build catalog service")
	}

	schema := catalog.OptionSchema{
		{Name: "size", Values: []string{"S", "M", "L", "XL"}, Required: true},
		{Name: "color", Values: []string{"Black", "White", "Navy"}, Required: true},
	}
	if _, err := svc.UpsertProductLine(ctx, "tee", "Classic Tee", schema); err != nil {
		logger.Fatal().Err(err).Msg("upsert product line")
	}

	variants := []seedVariant{
		{sku: "TEE-BLK-S", price: 1999, stock: 40, weight: 0.2, size: "S", color: "Black"},
		{sku: "TEE-BLK-M", price: 1999, stock: 60, weight: 0.22, size: "M", color: "Black"},
		{sku: "TEE-BLK-L", price: 1999, stock: 8, weight: 0.24, size: "L", color: "Black"},
		{sku: "TEE-WHT-M", price: 1799, stock: 25, weight: 0.22, size: "M", color: "White"},
		{sku: "TEE-NVY-XL", price: 2199, stock: 3, weight: 0.3, size: "XL", color: "Navy"},
	}
	created := 0
	for _, sv := range variants {
		weight := sv.weight
		v, err := svc.CreateVariant(ctx, catalog.NewVariant{
			ProductLine:   "tee",
			SKU:           sv.sku,
			Name:          fmt.Sprintf("Classic Tee %s / %s", sv.color, sv.size),
			PriceCents:    sv.price,
			StockQuantity: sv.stock,
			WeightKg:      &weight,
			Options:       catalog.Options{{Name: "size", Value: sv.size}, {Name: "color", Value: sv.color}},
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				logger.Info().Str("sku", sv.sku).Msg("variant exists, skipping")
				continue
			}
			logger.Fatal().Err(err).Str("sku", sv.sku).Msg("create variant")
		}
		created++
		logger.Info().Str("id", v.ID).Str("sku", v.SKU).Msg("variant created")
	}
	logger.Info().Int("created", created).Msg("seeding completed")
}
