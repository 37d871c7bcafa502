// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package segtree

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"golang.org/x/exp/constraints"
)

// Number is the set of element types the built-in aggregations accept.
type Number interface {
	constraints.Integer | constraints.Float
}

// AggregateFunc defines the type of aggregation operation.
type AggregateFunc int

const (
	AggregateSUM AggregateFunc = iota // Sum of values
	AggregateMIN                      // Minimum value
	AggregateMAX                      // Maximum value
)

// String returns the string representation of the aggregation function.
func (f AggregateFunc) String() string {
	switch f {
	case AggregateSUM:
		return "SUM"
	case AggregateMIN:
		return "MIN"
	case AggregateMAX:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether f is one of the built-in aggregation kinds.
func (f AggregateFunc) Valid() bool {
	switch f {
	case AggregateSUM, AggregateMIN, AggregateMAX:
		return true
	default:
		return false
	}
}

// ParseAggregateFunc converts "sum", "min" or "max" (any case) to an AggregateFunc.
func ParseAggregateFunc(s string) (AggregateFunc, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUM":
		return AggregateSUM, nil
	case "MIN":
		return AggregateMIN, nil
	case "MAX":
		return AggregateMAX, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAggFunc, s)
	}
}

// Monoid pairs an associative combining function with its identity element.
//
// Description:
//
//	The tree pads unused leaves with Identity and folds ranges with Combine.
//	Combine must be associative. It need not be commutative: queries fold
//	nodes in left-to-right order.
//
// Example:
//
//	xor := segtree.Monoid[uint32]{
//	    Name:     "XOR",
//	    Identity: 0,
//	    Combine:  func(a, b uint32) uint32 { return a ^ b },
//	}
type Monoid[T any] struct {
	Name     string
	Identity T
	Combine  func(a, b T) T
}

// SumMonoid returns addition with identity 0.
//
// Integer sums wrap on overflow like any Go integer arithmetic.
func SumMonoid[T Number]() Monoid[T] {
	return Monoid[T]{
		Name:     AggregateSUM.String(),
		Identity: 0,
		Combine:  func(a, b T) T { return a + b },
	}
}

// MinMonoid returns minimum with the greatest value of T as identity
// (+Inf for floating point types).
func MinMonoid[T Number]() Monoid[T] {
	return Monoid[T]{
		Name:     AggregateMIN.String(),
		Identity: upperBound[T](),
		Combine: func(a, b T) T {
			if b < a {
				return b
			}
			return a
		},
	}
}

// MaxMonoid returns maximum with the least value of T as identity
// (-Inf for floating point types).
func MaxMonoid[T Number]() Monoid[T] {
	return Monoid[T]{
		Name:     AggregateMAX.String(),
		Identity: lowerBound[T](),
		Combine: func(a, b T) T {
			if b > a {
				return b
			}
			return a
		},
	}
}

// GCDMonoid returns the greatest common divisor with identity 0.
// Results are non-negative.
func GCDMonoid[T constraints.Integer]() Monoid[T] {
	return Monoid[T]{
		Name:     "GCD",
		Identity: 0,
		Combine:  gcd[T],
	}
}

// MonoidFor resolves a built-in aggregation kind to its monoid.
func MonoidFor[T Number](f AggregateFunc) (Monoid[T], error) {
	switch f {
	case AggregateSUM:
		return SumMonoid[T](), nil
	case AggregateMIN:
		return MinMonoid[T](), nil
	case AggregateMAX:
		return MaxMonoid[T](), nil
	default:
		return Monoid[T]{}, fmt.Errorf("%w: %d", ErrInvalidAggFunc, f)
	}
}

// upperBound returns the greatest value representable by T.
// Resolved through the underlying kind so named numeric types work too.
func upperBound[T Number]() T {
	var v T
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		rv.SetFloat(math.Inf(1))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		rv.SetInt(int64(1)<<(rv.Type().Bits()-1) - 1)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		rv.SetUint(uint64(math.MaxUint64) >> uint(64-rv.Type().Bits()))
	}
	return v
}

// lowerBound returns the least value representable by T.
func lowerBound[T Number]() T {
	var v T
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		rv.SetFloat(math.Inf(-1))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		rv.SetInt(-(int64(1) << (rv.Type().Bits() - 1)))
	}
	// Unsigned kinds: zero value is already the minimum.
	return v
}

// gcd computes greatest common divisor using Euclidean algorithm.
func gcd[T constraints.Integer](a, b T) T {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// same reports whether a and b are equal, treating NaN as equal to itself.
func same[T comparable](a, b T) bool {
	return a == b || (a != a && b != b)
}
