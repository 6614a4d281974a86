// Package rules holds the rule registry: the table mapping an alert signature
// id to a description and an enforcement action, its durable storage
// backends and the label policy derived from the action.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/eventbus"
)

var (
	ErrInvalidID          = errors.New("rule id must be a positive integer")
	ErrInvalidAction      = errors.New("action must be one of 1, 2, 3, 4")
	ErrInvalidDescription = errors.New("description must not be empty")
	ErrRuleNotFound       = errors.New("rule not found")
)

// PersistenceError reports that a mutation was applied in memory but could
// not be written to durable storage.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist rules after %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var (
	rulesConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ips_rules_configured",
			Help: "Number of rules in the registry",
		},
	)
	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ips_rule_persist_failures_total",
			Help: "Rule table writes that failed to reach durable storage",
		},
	)
)

func init() {
	prometheus.MustRegister(rulesConfigured)
	prometheus.MustRegister(persistFailures)
}

// Rule maps an alert signature id to an enforcement action.
type Rule struct {
	ID          int    `json:"rule"`
	Description string `json:"description"`
	Action      Action `json:"action"`
}

// Publisher receives one line per registry change.
type Publisher interface {
	Publish(line string)
}

// Store is the concurrency-safe rule registry. Every mutation holds the
// write lock across the in-memory update and the durable write.
type Store struct {
	mu      sync.RWMutex
	rules   map[int]Rule
	storage Storage
	log     *logrus.Logger
	pub     Publisher
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher mirrors registry changes and persistence failures to p.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

// NewStore hydrates a store from storage. Unreadable or corrupt content
// yields an empty table; it never fails.
func NewStore(ctx context.Context, storage Storage, log *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		rules:   make(map[int]Rule),
		storage: storage,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}

	table, skipped, err := storage.Load(ctx)
	if err != nil {
		s.log.WithError(err).WithField(eventbus.PublishedField, true).Error("Failed to load rules, starting with an empty table")
		s.publish(fmt.Sprintf("rules load failed, starting empty: %v", err))
		table = nil
	}
	s.reportSkipped(skipped)
	for id, r := range table {
		s.rules[id] = r
	}
	rulesConfigured.Set(float64(len(s.rules)))
	s.log.WithField("rules", len(s.rules)).Info("Rules loaded")
	return s
}

// List returns a snapshot of all rules ordered by id.
func (s *Store) List() []Rule {
	s.mu.RLock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the rule for id.
func (s *Store) Get(id int) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	return r, ok
}

// Len returns the number of rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Upsert stores the rule for id, replacing any previous rule with that id.
// A *PersistenceError means the rule is live in memory but not durable.
func (s *Store) Upsert(ctx context.Context, id int, description string, action Action) (Rule, error) {
	r, err := newRule(id, description, action)
	if err != nil {
		return Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[id] = r
	s.publish(fmt.Sprintf("rule %d set: action=%s label=%s description=%q", id, action, LabelFor(action), r.Description))
	return r, s.persistLocked(ctx, "upsert")
}

// Update replaces an existing rule. It returns ErrRuleNotFound when id is absent.
func (s *Store) Update(ctx context.Context, id int, description string, action Action) (Rule, error) {
	r, err := newRule(id, description, action)
	if err != nil {
		return Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return Rule{}, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	s.rules[id] = r
	s.publish(fmt.Sprintf("rule %d updated: action=%s label=%s description=%q", id, action, LabelFor(action), r.Description))
	return r, s.persistLocked(ctx, "update")
}

// Remove deletes the rule for id and reports whether it existed. The table
// is persisted even when nothing was removed.
func (s *Store) Remove(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.rules[id]
	delete(s.rules, id)
	if existed {
		s.publish(fmt.Sprintf("rule %d removed", id))
	}
	return existed, s.persistLocked(ctx, "remove")
}

// Reload replaces the table with the stored one. On a load error the
// current table is kept.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, skipped, err := s.storage.Load(ctx)
	if err != nil {
		s.log.WithError(err).WithField(eventbus.PublishedField, true).Error("Failed to reload rules, keeping current table")
		s.publish(fmt.Sprintf("rules reload failed, keeping %d rules: %v", len(s.rules), err))
		return err
	}
	s.reportSkipped(skipped)
	s.rules = make(map[int]Rule, len(table))
	for id, r := range table {
		s.rules[id] = r
	}
	rulesConfigured.Set(float64(len(s.rules)))
	s.log.WithFields(logrus.Fields{"rules": len(s.rules), eventbus.PublishedField: true}).Info("Rules reloaded from storage")
	s.publish(fmt.Sprintf("rules reloaded: %d rules", len(s.rules)))
	return nil
}

func (s *Store) persistLocked(ctx context.Context, op string) error {
	rulesConfigured.Set(float64(len(s.rules)))
	snapshot := make(map[int]Rule, len(s.rules))
	for id, r := range s.rules {
		snapshot[id] = r
	}
	if err := s.storage.Save(ctx, snapshot); err != nil {
		persistFailures.Inc()
		s.log.WithError(err).WithFields(logrus.Fields{"op": op, eventbus.PublishedField: true}).Error("Failed to persist rules")
		s.publish(fmt.Sprintf("rules persist failed after %s: %v", op, err))
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// reportSkipped logs stored entries that were dropped on load.
func (s *Store) reportSkipped(keys []string) {
	if len(keys) == 0 {
		return
	}
	s.log.WithFields(logrus.Fields{"skipped": keys, eventbus.PublishedField: true}).Warn("Dropped invalid stored rules")
	s.publish(fmt.Sprintf("rules load dropped %d invalid entries: %s", len(keys), strings.Join(keys, ",")))
}

func (s *Store) publish(line string) {
	if s.pub != nil {
		s.pub.Publish(line)
	}
}

func newRule(id int, description string, action Action) (Rule, error) {
	if id <= 0 {
		return Rule{}, ErrInvalidID
	}
	if !action.Valid() {
		return Rule{}, fmt.Errorf("%w: got %d", ErrInvalidAction, int(action))
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return Rule{}, ErrInvalidDescription
	}
	return Rule{ID: id, Description: description, Action: action}, nil
}
