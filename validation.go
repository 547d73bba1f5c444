package evfs

import (
	"fmt"
)

// Parameter validation helpers shared by the config surface and the page
// codec.

// validatePageSize checks the page size bounds and power-of-two
// requirement.
func validatePageSize(size int) error {
	if size < MinPageSize || size > MaxPageSize {
		return &ConfigError{
			Field:   "PageSize",
			Value:   size,
			Message: fmt.Sprintf("page size must be between %d and %d", MinPageSize, MaxPageSize),
		}
	}
	if size&(size-1) != 0 {
		return &ConfigError{
			Field:   "PageSize",
			Value:   size,
			Message: "page size must be a power of two",
		}
	}
	return nil
}

// validateReserveSize checks the reserve against its bounds and the page
// size.
func validateReserveSize(reserve, pageSize int) error {
	if reserve < MinReserveSize {
		return &ConfigError{
			Field:   "ReserveSize",
			Value:   reserve,
			Message: fmt.Sprintf("reserve must be at least %d (tag + marker)", MinReserveSize),
		}
	}
	if reserve > MaxReserveSize {
		return &ConfigError{
			Field:   "ReserveSize",
			Value:   reserve,
			Message: fmt.Sprintf("reserve must not exceed %d", MaxReserveSize),
		}
	}
	if reserve >= pageSize {
		return &ConfigError{
			Field:   "ReserveSize",
			Value:   reserve,
			Message: fmt.Sprintf("reserve must be smaller than the page size (%d)", pageSize),
		}
	}
	return nil
}

// validatePageBuffer checks that a buffer is a full page with room for
// the reserved tail.
func validatePageBuffer(page []byte, reserve int) error {
	if page == nil {
		return &ConfigError{Field: "page", Message: "page buffer cannot be nil"}
	}
	if reserve < MinReserveSize {
		return &ConfigError{
			Field:   "reserve",
			Value:   reserve,
			Message: fmt.Sprintf("reserve must be at least %d (tag + marker)", MinReserveSize),
		}
	}
	if len(page) <= reserve {
		return &ConfigError{
			Field:   "page",
			Value:   len(page),
			Message: fmt.Sprintf("page buffer too small: got %d bytes, reserve is %d", len(page), reserve),
		}
	}
	return nil
}
