package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/praxislaw/lib-reliability/reliability/log"
)

// Service evaluates registered policies and caches decisions.
//
// Construct one per process at the composition root and inject it wherever
// commands are authorized. All methods are safe for concurrent use.
type Service struct {
	mu       sync.RWMutex
	policies map[string]Policy
	cache    map[string]bool

	evaluationCount uint64
	cacheHits       uint64

	logger log.Logger
}

// Stats is a monitoring snapshot of the service.
type Stats struct {
	RulesCount      int    `json:"rules_count"`
	EvaluationCount uint64 `json:"evaluation_count"`
	CacheHits       uint64 `json:"cache_hits"`
}

// NewService creates a policy service with no registered policies.
func NewService(logger log.Logger) *Service {
	return &Service{
		policies: make(map[string]Policy),
		cache:    make(map[string]bool),
		logger:   log.OrNop(logger),
	}
}

// RegisterPolicy adds a policy to the active rule set. A policy with an
// already registered name replaces that policy's prior rules only; rules
// contributed by other policies are unaffected. Cached decisions are dropped
// because they may no longer be valid.
func (s *Service) RegisterPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, replacing := s.policies[p.Name]
	s.policies[p.Name] = p
	s.cache = make(map[string]bool)

	s.logger.Log(context.Background(), log.LevelInfo, "registered policy",
		log.String("policy", p.Name),
		log.Int("rules", len(p.Rules)),
		log.Bool("replaced", replacing))
}

// CanExecute reports whether the actor may execute the named command.
//
// The decision is fail-closed: a nil actor, an unparseable command name, no
// matching rule, or a contextual condition referencing an absent context
// field all deny. At least one matching rule with every condition satisfied
// authorizes (OR across rules, AND within a rule).
func (s *Service) CanExecute(ctx context.Context, actorID, commandName string, actor *Actor, cctx Context) bool {
	if actor == nil {
		s.logger.Log(ctx, log.LevelWarn, "authorization denied: no actor",
			log.String("command", commandName))

		return false
	}

	key := cacheKey(actorID, commandName, cctx)

	s.mu.RLock()
	decision, hit := s.cache[key]
	s.mu.RUnlock()

	if hit {
		s.mu.Lock()
		s.cacheHits++
		s.mu.Unlock()

		return decision
	}

	decision = s.evaluate(commandName, actor, cctx)

	s.mu.Lock()
	s.cache[key] = decision
	s.evaluationCount++
	s.mu.Unlock()

	if !decision {
		s.logger.Log(ctx, log.LevelWarn, "authorization denied",
			log.String("actor", actorID),
			log.String("role", actor.Role),
			log.String("command", commandName))
	}

	return decision
}

// evaluate runs the full rule scan for a cache miss.
func (s *Service) evaluate(commandName string, actor *Actor, cctx Context) bool {
	resource, action, ok := parseCommandName(commandName)
	if !ok {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		for _, rule := range p.Rules {
			if rule.matches(resource, action) && rule.allows(actor, cctx) {
				return true
			}
		}
	}

	return false
}

// Stats returns a monitoring snapshot. No side effects.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := 0
	for _, p := range s.policies {
		rules += len(p.Rules)
	}

	return Stats{
		RulesCount:      rules,
		EvaluationCount: s.evaluationCount,
		CacheHits:       s.cacheHits,
	}
}

// ClearCache drops all cached decisions and zeroes the hit and evaluation
// counters. Registered policies are kept.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string]bool)
	s.evaluationCount = 0
	s.cacheHits = 0
}

// cacheKey fingerprints a decision's inputs. Context fields are sorted so
// logically equal contexts share a key regardless of map iteration order.
func cacheKey(actorID, commandName string, cctx Context) string {
	if len(cctx) == 0 {
		return actorID + "|" + commandName
	}

	fields := make([]string, 0, len(cctx))
	for field, value := range cctx {
		fields = append(fields, field+"="+fingerprintValue(value))
	}

	sort.Strings(fields)

	return actorID + "|" + commandName + "|" + strings.Join(fields, "&")
}

// fingerprintValue renders a context value so numerically equal values
// (100000 vs 100000.0) fingerprint identically.
func fingerprintValue(value any) string {
	if dec, ok := toDecimal(value); ok {
		return dec.String()
	}

	return fmt.Sprint(value)
}
