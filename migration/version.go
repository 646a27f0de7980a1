package migration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidVersion      = errors.New("invalid migration version")
	ErrMigrationDuplicated = errors.New("migration is defined more than once")
)

type versionKind uint8

const (
	// the zero value: no version at all (repeatable migrations)
	kindNone versionKind = iota
	kindEmpty
	kindRegular
	kindCurrent
	kindNext
	kindLatest
)

// Version is a dotted sequence of non-negative integers such as 1.2.3.
// The zero Version carries no version at all and is what repeatable migrations have;
// it sorts before every other version.
type Version struct {
	kind    versionKind
	parts   []uint64
	display string
}

var (
	// Empty sorts before every real version.
	Empty = Version{kind: kindEmpty, display: "<< Empty Schema >>"}
	// Latest sorts after every real version and is only meaningful as a target.
	Latest = Version{kind: kindLatest, display: "<< Latest Version >>"}
	// Next targets the first pending migration only.
	Next = Version{kind: kindNext, display: "<< Next Version >>"}
	// Current targets the version currently applied.
	Current = Version{kind: kindCurrent, display: "<< Current Version >>"}
)

// ---

// ParseVersion parses a version string; both '.' and '_' separate components.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("%w: version is empty", ErrInvalidVersion)
	}

	normalized := strings.ReplaceAll(s, "_", ".")
	tokens := strings.Split(normalized, ".")
	parts := make([]uint64, 0, len(tokens))

	for _, token := range tokens {
		part, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q contains non-numeric component %q", ErrInvalidVersion, s, token)
		}

		parts = append(parts, part)
	}

	// 1.0 and 1 are the same version
	for len(parts) > 1 && parts[len(parts)-1] == 0 {
		parts = parts[:len(parts)-1]
	}

	return Version{kind: kindRegular, parts: parts, display: normalized}, nil
}

func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}

	return v
}

// ParseTarget accepts a version or one of the sentinels "latest", "next", "current".
// An empty string means latest.
func ParseTarget(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest":
		return Latest, nil
	case "next":
		return Next, nil
	case "current":
		return Current, nil
	}

	return ParseVersion(s)
}

// ---

func (v Version) IsZero() bool {
	return v.kind == kindNone
}

func (v Version) IsLatest() bool {
	return v.kind == kindLatest
}

func (v Version) IsNext() bool {
	return v.kind == kindNext
}

func (v Version) IsCurrent() bool {
	return v.kind == kindCurrent
}

func (v Version) String() string {
	return v.display
}

// Canonical renders the normalized components, so that equal versions render
// identically ("1.0" and "1_0_0" both become "1").
func (v Version) Canonical() string {
	if v.kind != kindRegular {
		return v.display
	}

	tokens := make([]string, len(v.parts))
	for i, part := range v.parts {
		tokens[i] = strconv.FormatUint(part, 10)
	}

	return strings.Join(tokens, ".")
}

// Compare returns -1, 0 or +1. Missing trailing components count as zero.
func (v Version) Compare(other Version) int {
	if v.kind != kindRegular || other.kind != kindRegular {
		return compareKinds(v.kind, other.kind)
	}

	n := len(v.parts)
	if len(other.parts) > n {
		n = len(other.parts)
	}

	for i := 0; i < n; i++ {
		a, b := v.part(i), other.part(i)

		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}

	return 0
}

func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

func (v Version) IsNewerThan(other Version) bool {
	return v.Compare(other) > 0
}

func (v Version) IsAtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

func (v Version) part(i int) uint64 {
	if i < len(v.parts) {
		return v.parts[i]
	}

	return 0
}

// current and next are ordered like latest: they are resolved to a concrete
// version before anything is compared against them.
func compareKinds(a, b versionKind) int {
	rank := func(k versionKind) int {
		switch k {
		case kindNone:
			return 0
		case kindEmpty:
			return 1
		case kindRegular:
			return 2
		default:
			return 3
		}
	}

	switch ra, rb := rank(a), rank(b); {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}

	return 0
}
