// Package validation provides centralized input validation for plclogger.
package validation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for catalog names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// TagNameRules returns the rules for tag and setpoint names. Names end up
// in SQL parameters, CSV cells and URLs, so they stay plain identifiers.
func TagNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    false,
		AllowHyphens: false,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateTagName validates a tag or setpoint name.
func ValidateTagName(name string) error {
	return ValidateName(name, TagNameRules())
}

// =============================================================================
// Address Validation
// =============================================================================

// ValidateHostPort checks a "host:port" listen or dial address. An empty
// host is allowed for listen addresses.
func ValidateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.ContainsAny(host, " \t") {
		return fmt.Errorf("host %q contains whitespace", host)
	}
	return ValidatePort(port)
}

// ValidatePort checks a decimal TCP port.
func ValidatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port %q is not a number", port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", n)
	}
	return nil
}

// =============================================================================
// Numeric Validation
// =============================================================================

// ValidateFraction checks that f lies in [0, 1].
func ValidateFraction(f float64) error {
	if f < 0 || f > 1 {
		return fmt.Errorf("%v is outside [0, 1]", f)
	}
	return nil
}
