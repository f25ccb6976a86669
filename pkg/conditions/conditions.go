// Package conditions builds query condition strings for web services
// collections (the ?condition= parameter understood by DeviceCore,
// FileData, Monitor and friends).
package conditions

import (
	"fmt"
	"time"
)

// Expression is an evaluable filter, e.g. fdType='file' or a compound
// (fdType='file' and fdName like 'sample%gas').
type Expression interface {
	Compile() string
}

// Attribute is a piece of data on which comparisons are performed.
// Comparisons produce Expression values.
type Attribute string

func (a Attribute) String() string { return string(a) }

// Eq builds an equality comparison against value.
func (a Attribute) Eq(value any) Expression { return comparison{a, "=", value} }

// Gt builds a greater-than comparison against value.
func (a Attribute) Gt(value any) Expression { return comparison{a, ">", value} }

// Lt builds a less-than comparison against value.
func (a Attribute) Lt(value any) Expression { return comparison{a, "<", value} }

// Like builds a SQL-style like comparison against value.
func (a Attribute) Like(value any) Expression { return comparison{a, " like ", value} }

// And combines two expressions so both must match.
func And(lhs, rhs Expression) Expression { return combination{lhs, " and ", rhs} }

// Or combines two expressions so either may match.
func Or(lhs, rhs Expression) Expression { return combination{lhs, " or ", rhs} }

type comparison struct {
	attribute Attribute
	sep       string
	value     any
}

func (c comparison) Compile() string {
	return fmt.Sprintf("%s%s%s", c.attribute, c.sep, quoted(c.value))
}

type combination struct {
	lhs Expression
	sep string
	rhs Expression
}

func (c combination) Compile() string {
	return c.lhs.Compile() + c.sep + c.rhs.Compile()
}

// quoted renders value single-quoted in the representation the cloud
// expects; time values become UTC ISO8601.
func quoted(value any) string {
	switch v := value.(type) {
	case time.Time:
		return fmt.Sprintf("'%s'", v.UTC().Format("2006-01-02T15:04:05Z"))
	default:
		return fmt.Sprintf("'%v'", v)
	}
}
