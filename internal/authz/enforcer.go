// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package authz provides authorization using Casbin RBAC: role
// hierarchy (admin inherits user), path-based permissions matched
// against API routes, and decision caching.
package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// EnforcerConfig holds configuration for the Casbin enforcer.
type EnforcerConfig struct {
	// ModelPath overrides the embedded model when it points at an
	// existing file.
	ModelPath string

	// PolicyPath overrides the embedded policy when it points at an
	// existing file.
	PolicyPath string

	// AutoReload enables periodic policy reload from PolicyPath.
	AutoReload bool

	// ReloadInterval is how often to check for policy changes.
	ReloadInterval time.Duration

	// DefaultRole is assumed for authenticated subjects without an
	// explicit role.
	DefaultRole string

	// CacheEnabled enables enforcement decision caching.
	CacheEnabled bool

	// CacheTTL is how long to cache decisions.
	CacheTTL time.Duration
}

// DefaultEnforcerConfig returns default configuration.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{
		AutoReload:     true,
		ReloadInterval: 30 * time.Second,
		DefaultRole:    "user",
		CacheEnabled:   true,
		CacheTTL:       5 * time.Minute,
	}
}

// Enforcer wraps the Casbin enforcer with caching and role helpers.
type Enforcer struct {
	config   *EnforcerConfig
	enforcer *casbin.SyncedEnforcer
	cache    *decisionCache
}

// NewEnforcer creates a new authorization enforcer.
func NewEnforcer(ctx context.Context, config *EnforcerConfig) (*Enforcer, error) {
	if config == nil {
		config = DefaultEnforcerConfig()
	}

	var m model.Model
	var err error

	if config.ModelPath != "" && fileExists(config.ModelPath) {
		m, err = model.NewModelFromFile(config.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer

	if config.PolicyPath != "" && fileExists(config.PolicyPath) {
		adapter := fileadapter.NewAdapter(config.PolicyPath)
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if config.AutoReload && config.PolicyPath != "" {
		enforcer.StartAutoLoadPolicy(config.ReloadInterval)
	}

	e := &Enforcer{
		config:   config,
		enforcer: enforcer,
	}

	if config.CacheEnabled {
		e.cache = newDecisionCache(config.CacheTTL)
	}

	return e, nil
}

// loadEmbeddedPolicy parses and loads the embedded policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		ptype := parts[0]
		rule := parts[1:]

		switch ptype {
		case "p":
			if len(rule) >= 3 {
				if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
					return fmt.Errorf("failed to add policy %v: %w", rule, err)
				}
			}
		case "g":
			if len(rule) >= 2 {
				if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
					return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
				}
			}
		}
	}
	return nil
}

// Enforce checks if the subject can perform the action on the object.
// For API requests the object is the route path and the action is the
// HTTP method.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	if e.cache != nil {
		if allowed, ok := e.cache.lookup(subject, object, action); ok {
			return allowed, nil
		}
	}

	allowed, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}

	if e.cache != nil {
		e.cache.store(subject, object, action, allowed)
	}

	return allowed, nil
}

// EnforceRole checks whether the given role (falling back to the
// default role when empty) allows the action.
func (e *Enforcer) EnforceRole(role, object, action string) (bool, error) {
	if role == "" {
		role = e.config.DefaultRole
	}
	return e.Enforce(role, object, action)
}

// AddRoleForUser assigns a role to a user.
func (e *Enforcer) AddRoleForUser(user, role string) (bool, error) {
	added, err := e.enforcer.AddGroupingPolicy(user, role)
	if err != nil {
		return false, fmt.Errorf("failed to add role: %w", err)
	}
	if e.cache != nil {
		e.cache.dropSubject(user)
	}
	return added, nil
}

// DeleteRoleForUser removes a role from a user.
func (e *Enforcer) DeleteRoleForUser(user, role string) (bool, error) {
	removed, err := e.enforcer.RemoveGroupingPolicy(user, role)
	if err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}
	if e.cache != nil {
		e.cache.dropSubject(user)
	}
	return removed, nil
}

// GetRolesForUser returns all roles for a user.
func (e *Enforcer) GetRolesForUser(user string) ([]string, error) {
	return e.enforcer.GetRolesForUser(user)
}

// GetPolicy returns all policy rules.
func (e *Enforcer) GetPolicy() [][]string {
	//nolint:errcheck // GetPolicy only fails if enforcer is nil
	policies, _ := e.enforcer.GetPolicy()
	return policies
}

// ErrNoAdapter is returned when SavePolicy or LoadPolicy is called with
// the embedded policy and no file adapter.
var ErrNoAdapter = errors.New("no policy adapter configured; using embedded policy")

// LoadPolicy reloads the policy from storage.
func (e *Enforcer) LoadPolicy() error {
	if e.config.PolicyPath == "" {
		return ErrNoAdapter
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		return err
	}
	if e.cache != nil {
		e.cache.reset()
	}
	return nil
}

// Close stops the enforcer and cleans up resources.
func (e *Enforcer) Close() {
	e.enforcer.StopAutoLoadPolicy()
	if e.cache != nil {
		e.cache.stop()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
