// Package asset parses and validates asset identifiers. An identifier is
// either a bare code (native or synthetic assets, e.g. XLM or SLP) or a code
// and issuer account in Stellar style: USDC:GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN.
package asset

import (
	"errors"
	"fmt"
	"regexp"
)

// idRegex matches: {CODE} or {CODE}:{ISSUER}
// CODE is 1-12 upper-case alphanumerics; ISSUER is a 56-character base32
// account id starting with G.
var idRegex = regexp.MustCompile(`^([A-Z0-9]{1,12})(?::(G[A-Z2-7]{55}))?$`)

var ErrInvalidAsset = errors.New("asset: invalid asset identifier")

// ID is a parsed asset identifier.
type ID struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// Parse parses and validates an asset identifier.
func Parse(s string) (ID, error) {
	matches := idRegex.FindStringSubmatch(s)
	if matches == nil {
		return ID{}, fmt.Errorf("%w: %q (expected CODE or CODE:ISSUER)", ErrInvalidAsset, s)
	}
	return ID{Code: matches[1], Issuer: matches[2]}, nil
}

// MustParse is Parse for identifiers known at compile time.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate reports whether every identifier parses and none repeats.
func Validate(ids ...string) error {
	seen := make(map[string]bool, len(ids))
	for _, s := range ids {
		if _, err := Parse(s); err != nil {
			return err
		}
		if seen[s] {
			return fmt.Errorf("%w: %q given twice", ErrInvalidAsset, s)
		}
		seen[s] = true
	}
	return nil
}

// Native reports whether the asset has no issuer.
func (id ID) Native() bool { return id.Issuer == "" }

func (id ID) String() string {
	if id.Issuer == "" {
		return id.Code
	}
	return id.Code + ":" + id.Issuer
}
