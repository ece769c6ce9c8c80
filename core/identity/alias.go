package identity

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	vaulterrors "evovault/core/errors"
)

const aliasMaxLength = 64

// ErrInvalidAlias is returned when the supplied alias does not satisfy the
// naming constraints.
var ErrInvalidAlias = fmt.Errorf("%w: identity: invalid alias", vaulterrors.ErrValidation)

// NormalizeAlias trims and validates a display alias. An empty alias clears
// the label and is reported as nil.
func NormalizeAlias(alias string) (*string, error) {
	trimmed := strings.TrimSpace(alias)
	if trimmed == "" {
		return nil, nil
	}
	if !utf8.ValidString(trimmed) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidAlias)
	}
	if n := utf8.RuneCountInString(trimmed); n > aliasMaxLength {
		return nil, fmt.Errorf("%w: must be at most %d characters", ErrInvalidAlias, aliasMaxLength)
	}
	for _, r := range trimmed {
		if !unicode.IsPrint(r) {
			return nil, fmt.Errorf("%w: contains non-printable characters", ErrInvalidAlias)
		}
	}
	return &trimmed, nil
}
