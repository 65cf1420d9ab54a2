// Package tracking issues and parses document tracking numbers of the form
// PNP-YYYY-CCC-NNNN: prefix, UTC year, category code and a per-(year, category)
// sequence.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MaxSequence is the largest sequence value that fits the four-digit block.
const MaxSequence = 9999

// Pattern matches a well-formed tracking number.
var Pattern = regexp.MustCompile(`^([A-Z]{3})-(\d{4})-([A-Z]{3})-(\d{4})$`)

var (
	// ErrSequenceExhausted is returned once a (year, category) counter passes MaxSequence.
	ErrSequenceExhausted = errors.New("tracking sequence exhausted")
	// ErrInvalidNumber is returned by Parse for malformed input.
	ErrInvalidNumber = errors.New("invalid tracking number")

	codePattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Number is a parsed tracking number.
type Number struct {
	Prefix       string
	Year         int
	CategoryCode string
	Sequence     int
}

func (n Number) String() string {
	return fmt.Sprintf("%s-%04d-%s-%04d", n.Prefix, n.Year, n.CategoryCode, n.Sequence)
}

// Parse parses a tracking number string.
func Parse(s string) (Number, error) {
	m := Pattern.FindStringSubmatch(s)
	if m == nil {
		return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	year, _ := strconv.Atoi(m[2])
	seq, _ := strconv.Atoi(m[4])
	if seq == 0 {
		return Number{}, fmt.Errorf("%w: sequence must start at 1", ErrInvalidNumber)
	}
	return Number{Prefix: m[1], Year: year, CategoryCode: m[3], Sequence: seq}, nil
}

// Sequence hands out increasing counter values per (year, category code).
// Implementations must be safe for concurrent callers across processes.
type Sequence interface {
	Next(ctx context.Context, year int, categoryCode string) (int, error)
	// Advance raises the counter to at least floor so the next value is
	// above it. A counter already past floor is left alone.
	Advance(ctx context.Context, year int, categoryCode string, floor int) error
}

// Generator builds tracking numbers from a Sequence.
type Generator struct {
	prefix string
	seq    Sequence
	now    func() time.Time
}

// NewGenerator creates a Generator. prefix must be three uppercase letters.
func NewGenerator(prefix string, seq Sequence) (*Generator, error) {
	if !codePattern.MatchString(prefix) {
		return nil, fmt.Errorf("tracking prefix %q must be three uppercase letters", prefix)
	}
	return &Generator{prefix: prefix, seq: seq, now: time.Now}, nil
}

// Next issues the next tracking number for the category in the current UTC year.
func (g *Generator) Next(ctx context.Context, categoryCode string) (Number, error) {
	if !codePattern.MatchString(categoryCode) {
		return Number{}, fmt.Errorf("category code %q must be three uppercase letters", categoryCode)
	}

	year := g.now().UTC().Year()
	seq, err := g.seq.Next(ctx, year, categoryCode)
	if err != nil {
		return Number{}, fmt.Errorf("next tracking sequence: %w", err)
	}
	if seq > MaxSequence {
		return Number{}, fmt.Errorf("%w for %d/%s", ErrSequenceExhausted, year, categoryCode)
	}
	if seq < 1 {
		return Number{}, fmt.Errorf("tracking sequence returned %d", seq)
	}

	return Number{Prefix: g.prefix, Year: year, CategoryCode: categoryCode, Sequence: seq}, nil
}

// Resync moves the counter behind n past highest, the largest sequence
// already used for n's year and category. Called after n collided with an
// existing document, e.g. when a counter was lost and restarted at 1.
func (g *Generator) Resync(ctx context.Context, n Number, highest int) error {
	if highest < 1 {
		return nil
	}
	if err := g.seq.Advance(ctx, n.Year, n.CategoryCode, highest); err != nil {
		return fmt.Errorf("advance tracking sequence: %w", err)
	}
	return nil
}
