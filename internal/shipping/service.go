package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/atomic-shop/internal/store"
)

// ErrMethodNotFound is returned for unknown or inactive method codes.
var ErrMethodNotFound = errors.New("shipping method not found")

type queryProvider interface {
	GetShippingMethod(ctx context.Context, code string) (store.ShippingMethod, error)
	ListShippingMethods(ctx context.Context) ([]store.ShippingMethod, error)
}

// Service reads the configured shipping methods.
type Service struct {
	Q queryProvider
}

// Method loads an active method by code.
func (s *Service) Method(ctx context.Context, code string) (Method, error) {
	if s == nil || s.Q == nil {
		return Method{}, errors.New("shipping queries not configured")
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Method{}, ErrMethodNotFound
	}
	row, err := s.Q.GetShippingMethod(ctx, code)
	if err != nil {
		if store.IsNotFound(err) {
			return Method{}, fmt.Errorf("%w: %s", ErrMethodNotFound, code)
		}
		return Method{}, err
	}
	if !row.Active {
		return Method{}, fmt.Errorf("%w: %s", ErrMethodNotFound, code)
	}
	return MethodFromRow(row), nil
}

// Methods lists active methods in display order.
func (s *Service) Methods(ctx context.Context) ([]Method, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("shipping queries not configured")
	}
	rows, err := s.Q.ListShippingMethods(ctx)
	if err != nil {
		return nil, err
	}
	methods := make([]Method, 0, len(rows))
	for _, row := range rows {
		if !row.Active {
			continue
		}
		methods = append(methods, MethodFromRow(row))
	}
	return methods, nil
}

// MethodFromRow converts a shipping_methods row.
func MethodFromRow(row store.ShippingMethod) Method {
	m := Method{
		Code:     row.Code,
		Name:     row.Name,
		BaseFee:  row.BaseFeeCents,
		PerKgFee: row.PerKgFeeCents,
	}
	if row.DistanceMultiplier.Valid {
		v := row.DistanceMultiplier.Float64
		m.DistanceMultiplier = &v
	}
	return m
}
