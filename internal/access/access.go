package access

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Actor is the identity supplied per request by the host's
// authentication layer. A nil *Actor means the request is anonymous.
type Actor struct {
	ID    string
	Roles []string
}

// Authenticated reports whether the actor carries an identity.
func (a *Actor) Authenticated() bool {
	return a != nil && a.ID != ""
}

// Action is a permission-checked operation on a source.
type Action string

const (
	ActionBrowse Action = "browse"
	ActionUpload Action = "upload"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// configActions maps config keys to actions.
var configActions = map[string]Action{
	"files-browse": ActionBrowse,
	"files-upload": ActionUpload,
	"files-edit":   ActionEdit,
	"files-delete": ActionDelete,
}

type ruleKind int

const (
	kindDeny ruleKind = iota
	kindAllow
	kindActorID
	kindUnauthenticated
	kindExpr
	kindPerSource
)

// Rule is a parsed allow-expression. The config shapes (bool, actor
// match, expression, per-source map) are resolved into this tagged form
// once at load; nothing is shape-sniffed per request.
type Rule struct {
	kind      ruleKind
	actorID   string
	program   *vm.Program
	perSource map[string]*Rule
}

// RuleSet holds the parsed rule for each action. An absent action means
// default deny.
type RuleSet map[Action]*Rule

// ParseRules converts the raw permissions config tree into a RuleSet.
// Top-level keys are the action config names (files-browse, files-upload,
// files-edit, files-delete).
func ParseRules(raw map[string]any) (RuleSet, error) {
	rules := make(RuleSet, len(raw))
	for key, value := range raw {
		action, ok := configActions[key]
		if !ok {
			return nil, fmt.Errorf("unknown permission action %q", key)
		}
		rule, err := parseRule(value, true)
		if err != nil {
			return nil, fmt.Errorf("permission %q: %w", key, err)
		}
		rules[action] = rule
	}
	return rules, nil
}

func parseRule(raw any, allowPerSource bool) (*Rule, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return &Rule{kind: kindAllow}, nil
		}
		return &Rule{kind: kindDeny}, nil
	case map[string]any:
		if actorID, ok := v["actor"]; ok {
			id, ok := actorID.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("actor rule needs a non-empty string id")
			}
			return &Rule{kind: kindActorID, actorID: id}, nil
		}
		if unauth, ok := v["unauthenticated"]; ok {
			if b, ok := unauth.(bool); !ok || !b {
				return nil, fmt.Errorf("unauthenticated rule must be true")
			}
			return &Rule{kind: kindUnauthenticated}, nil
		}
		if src, ok := v["expr"]; ok {
			code, ok := src.(string)
			if !ok || code == "" {
				return nil, fmt.Errorf("expr rule needs a non-empty string expression")
			}
			program, err := expr.Compile(code, expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("compile expr rule: %w", err)
			}
			return &Rule{kind: kindExpr, program: program}, nil
		}
		if sources, ok := v["sources"]; ok {
			if !allowPerSource {
				return nil, fmt.Errorf("per-source rules cannot nest")
			}
			m, ok := sources.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("sources rule must be a mapping of slug to rule")
			}
			perSource := make(map[string]*Rule, len(m))
			for slug, sub := range m {
				subRule, err := parseRule(sub, false)
				if err != nil {
					return nil, fmt.Errorf("source %q: %w", slug, err)
				}
				perSource[slug] = subRule
			}
			return &Rule{kind: kindPerSource, perSource: perSource}, nil
		}
		return nil, fmt.Errorf("unrecognized rule shape (want bool, actor, unauthenticated, expr or sources)")
	default:
		return nil, fmt.Errorf("unrecognized rule type %T", raw)
	}
}

// allows evaluates the rule for one actor and one source slug.
func (r *Rule) allows(actor *Actor, slug string) bool {
	switch r.kind {
	case kindAllow:
		return true
	case kindDeny:
		return false
	case kindActorID:
		return actor != nil && actor.ID == r.actorID
	case kindUnauthenticated:
		return !actor.Authenticated()
	case kindExpr:
		out, err := expr.Run(r.program, exprEnv(actor, slug))
		if err != nil {
			return false
		}
		allowed, _ := out.(bool)
		return allowed
	case kindPerSource:
		sub, ok := r.perSource[slug]
		if !ok {
			return false
		}
		return sub.allows(actor, slug)
	default:
		return false
	}
}

func exprEnv(actor *Actor, slug string) map[string]any {
	env := map[string]any{
		"source": slug,
		"actor": map[string]any{
			"id":            "",
			"authenticated": false,
			"roles":         []string{},
		},
	}
	if actor != nil {
		env["actor"] = map[string]any{
			"id":            actor.ID,
			"authenticated": actor.Authenticated(),
			"roles":         actor.Roles,
		}
	}
	return env
}

// Resolver answers which sources an actor may act on. It is built once
// at startup from the parsed rules and the registered source slugs.
type Resolver struct {
	rules RuleSet
	slugs []string
	known map[string]bool
}

func NewResolver(rules RuleSet, slugs []string) *Resolver {
	known := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		known[slug] = true
	}
	return &Resolver{rules: rules, slugs: slugs, known: known}
}

// AllowedSources returns the slugs the actor may perform the action on.
// No configured rule means no sources.
func (r *Resolver) AllowedSources(actor *Actor, action Action) []string {
	rule, ok := r.rules[action]
	if !ok || rule == nil {
		return nil
	}
	var allowed []string
	for _, slug := range r.slugs {
		if rule.allows(actor, slug) {
			allowed = append(allowed, slug)
		}
	}
	return allowed
}

// IsAllowed is the single-source check. It evaluates the same rule the
// same way AllowedSources does, so the two can never disagree.
func (r *Resolver) IsAllowed(actor *Actor, action Action, slug string) bool {
	if !r.known[slug] {
		return false
	}
	rule, ok := r.rules[action]
	if !ok || rule == nil {
		return false
	}
	return rule.allows(actor, slug)
}
