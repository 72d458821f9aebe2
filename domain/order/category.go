package order

import "strings"

// Category decides which inventory rule applies to a product.
type Category string

const (
	Standard   Category = "standard"
	Perishable Category = "perishable"
	Digital    Category = "digital"
	Unknown    Category = "unknown"
)

// ParseCategory is case-insensitive; anything unrecognised is Unknown.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case Standard, Perishable, Digital:
		return c
	}
	return Unknown
}

func (c Category) MarshalText() ([]byte, error) {
	if c == "" {
		return []byte(Unknown), nil
	}
	return []byte(c), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}
