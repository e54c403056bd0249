package message

import (
	"fmt"
	"net/mail"
	"strings"
)

// ValidateAddress checks a single RFC 5322 address such as
// "a@example.com" or "Alice <a@example.com>".
func ValidateAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	return nil
}

// AddressOnly returns the bare addr-spec of addr, or addr unchanged when it
// does not parse.
func AddressOnly(addr string) string {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		return addr
	}
	return a.Address
}

// Domain returns the part after the last @ of the bare address.
func Domain(addr string) string {
	addr = AddressOnly(addr)
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}
