// Package policy evaluates declarative authorization rules for commands.
//
// Rules name a resource/action pair and carry conditions on the actor's
// role, permissions, or request context. A command is authorized when at
// least one matching rule has all of its conditions satisfied; every
// ambiguous path (missing actor, unknown command, absent context field)
// denies, so authorization bugs surface as unavailability rather than
// privilege escalation.
package policy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Actor is the authenticated principal a decision is evaluated for.
type Actor struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Context carries request-scoped fields referenced by contextual conditions,
// such as the monetary value of a contract being created.
type Context map[string]any

// CompareOp is a comparison operator of a ContextCompare condition.
type CompareOp string

const (
	OpLess           CompareOp = "<"
	OpLessOrEqual    CompareOp = "<="
	OpGreater        CompareOp = ">"
	OpGreaterOrEqual CompareOp = ">="
	OpEqual          CompareOp = "=="
	OpNotEqual       CompareOp = "!="
)

// Condition is one requirement of a rule. The variant set is closed:
// RoleIn, PermissionIn, and ContextCompare.
type Condition interface {
	// holds reports whether the condition is satisfied for the actor and
	// context. Absent context fields never satisfy a condition.
	holds(actor *Actor, cctx Context) bool
}

// RoleIn requires the actor's role to be one of the listed roles.
type RoleIn struct {
	Roles []string `json:"roles"`
}

func (c RoleIn) holds(actor *Actor, _ Context) bool {
	for _, role := range c.Roles {
		if actor.Role == role {
			return true
		}
	}

	return false
}

// PermissionIn requires the actor to hold at least one of the listed
// permissions.
type PermissionIn struct {
	Permissions []string `json:"permissions"`
}

func (c PermissionIn) holds(actor *Actor, _ Context) bool {
	for _, required := range c.Permissions {
		for _, held := range actor.Permissions {
			if held == required {
				return true
			}
		}
	}

	return false
}

// ContextCompare compares a context field against a reference value. A rule
// carrying this condition never authorizes a call that did not supply the
// field.
type ContextCompare struct {
	Field string    `json:"field"`
	Op    CompareOp `json:"op"`
	Value any       `json:"value"`
}

func (c ContextCompare) holds(_ *Actor, cctx Context) bool {
	if cctx == nil {
		return false
	}

	actual, present := cctx[c.Field]
	if !present {
		return false
	}

	actualDec, actualNumeric := toDecimal(actual)
	wantDec, wantNumeric := toDecimal(c.Value)

	if actualNumeric && wantNumeric {
		cmp := actualDec.Cmp(wantDec)

		switch c.Op {
		case OpLess:
			return cmp < 0
		case OpLessOrEqual:
			return cmp <= 0
		case OpGreater:
			return cmp > 0
		case OpGreaterOrEqual:
			return cmp >= 0
		case OpEqual:
			return cmp == 0
		case OpNotEqual:
			return cmp != 0
		}

		return false
	}

	// Non-numeric values only support (in)equality, compared textually.
	switch c.Op {
	case OpEqual:
		return fmt.Sprint(actual) == fmt.Sprint(c.Value)
	case OpNotEqual:
		return fmt.Sprint(actual) != fmt.Sprint(c.Value)
	default:
		return false
	}
}

// toDecimal normalizes the numeric types a JSON-shaped context can carry so
// 100000, 100000.0, and "100000" compare equal.
func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		dec, err := decimal.NewFromString(v)
		return dec, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// Rule authorizes one resource/action pair when all of its conditions hold.
type Rule struct {
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions []Condition `json:"conditions"`
}

// matches reports whether the rule applies to the resource/action pair.
func (r Rule) matches(resource, action string) bool {
	return r.Resource == resource && r.Action == action
}

// allows reports whether every condition of the rule holds. A rule without
// conditions allows unconditionally.
func (r Rule) allows(actor *Actor, cctx Context) bool {
	for _, condition := range r.Conditions {
		if !condition.holds(actor, cctx) {
			return false
		}
	}

	return true
}

// Policy is a named, replaceable set of rules. Registering a policy under an
// existing name replaces that policy's prior rules only.
type Policy struct {
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

// parseCommandName derives the resource/action pair a command name implies
// by convention: "CreateClientCommand" is the "create" action on the
// "Client" resource. A leading acronym belongs to the action together with
// the word after it, so "AIAnalyzeDocumentCommand" is "aianalyze" on
// "Document". An unparseable name yields ok=false, which denies.
func parseCommandName(commandName string) (resource, action string, ok bool) {
	name := strings.TrimSuffix(commandName, "Command")
	if name == "" || name == commandName {
		return "", "", false
	}

	runes := []rune(name)
	if !unicode.IsUpper(runes[0]) {
		return "", "", false
	}

	split := nextWordStart(runes, 0)
	if split < len(runes) && isAcronym(runes[:split]) {
		split = nextWordStart(runes, split)
	}

	if split == len(runes) {
		return "", "", false
	}

	return string(runes[split:]), strings.ToLower(string(runes[:split])), true
}

// nextWordStart returns the index where the camel-case word after position
// start begins, or len(runes) when nothing follows. An uppercase run is one
// word whose last capital starts the next word ("AIAnalyze" splits before
// the second "A").
func nextWordStart(runes []rune, start int) int {
	i := start + 1
	if i >= len(runes) {
		return len(runes)
	}

	if unicode.IsUpper(runes[i]) {
		for i < len(runes) && unicode.IsUpper(runes[i]) {
			i++
		}

		if i == len(runes) {
			return len(runes)
		}

		return i - 1
	}

	for i < len(runes) && !unicode.IsUpper(runes[i]) {
		i++
	}

	return i
}

// isAcronym reports whether the word is a run of two or more capitals.
func isAcronym(word []rune) bool {
	if len(word) < 2 {
		return false
	}

	for _, r := range word {
		if !unicode.IsUpper(r) {
			return false
		}
	}

	return true
}
