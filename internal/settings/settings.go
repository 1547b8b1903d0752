// Package settings serves immutable snapshots of admin-editable runtime
// settings. Handlers take one snapshot per turn and pass it down, so a turn
// never observes a half-applied admin edit.
package settings

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/utils"
)

// Keys read from the app_settings table.
const (
	KeyDefaultProviderPreference = "default_provider_preference"
	KeySystemPromptOverride      = "system_prompt_override"
)

// Snapshot is read-only once built.
type Snapshot struct {
	GeminiModels         map[string]string
	OpenAIModels         map[string]string
	DefaultPreference    routing.Preference
	SystemPromptOverride string
	LoadedAt             time.Time
}

// Candidates resolves a logical model id against this snapshot. An empty
// preference falls back to the snapshot default.
func (s *Snapshot) Candidates(logicalModelID string, pref routing.Preference) []routing.Candidate {
	if pref == "" {
		pref = s.DefaultPreference
	}
	return routing.Resolve(logicalModelID, s.GeminiModels, pref, s.OpenAIModels)
}

// Source loads admin overrides. Provider overrides are keyed by provider
// name, then logical model id.
type Source interface {
	LoadProviderOverrides(ctx context.Context) (map[string]map[string]string, error)
	LoadAppSettings(ctx context.Context) (map[string]string, error)
}

type Loader struct {
	src      Source
	defaults Snapshot
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	current *Snapshot
	group   singleflight.Group
}

func NewLoader(src Source, defaults Snapshot, ttl time.Duration) *Loader {
	return &Loader{
		src:      src,
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Snapshot returns a fresh-enough snapshot. Concurrent refreshes collapse
// into one load. When the source fails the last good snapshot is served,
// or the config defaults if none was ever loaded.
func (l *Loader) Snapshot(ctx context.Context) *Snapshot {
	l.mu.RLock()
	cur := l.current
	l.mu.RUnlock()
	if cur != nil && l.now().Sub(cur.LoadedAt) < l.ttl {
		return cur
	}

	v, _, _ := l.group.Do("snapshot", func() (interface{}, error) {
		snap, err := l.load(ctx)
		if err != nil {
			utils.Zlog.Warn("Failed to refresh settings, serving previous snapshot", zap.Error(err))
			l.mu.RLock()
			prev := l.current
			l.mu.RUnlock()
			if prev != nil {
				return prev, nil
			}
			d := l.defaultSnapshot()
			return d, nil
		}
		l.mu.Lock()
		l.current = snap
		l.mu.Unlock()
		return snap, nil
	})
	return v.(*Snapshot)
}

// Invalidate forces the next Snapshot call to reload.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()
}

func (l *Loader) defaultSnapshot() *Snapshot {
	return &Snapshot{
		GeminiModels:         maps.Clone(l.defaults.GeminiModels),
		OpenAIModels:         maps.Clone(l.defaults.OpenAIModels),
		DefaultPreference:    l.defaults.DefaultPreference,
		SystemPromptOverride: l.defaults.SystemPromptOverride,
		LoadedAt:             l.now(),
	}
}

func (l *Loader) load(ctx context.Context) (*Snapshot, error) {
	snap := l.defaultSnapshot()
	if snap.GeminiModels == nil {
		snap.GeminiModels = map[string]string{}
	}
	if snap.OpenAIModels == nil {
		snap.OpenAIModels = map[string]string{}
	}

	overrides, err := l.src.LoadProviderOverrides(ctx)
	if err != nil {
		return nil, err
	}
	maps.Copy(snap.GeminiModels, overrides[string(routing.ProviderGemini)])
	maps.Copy(snap.OpenAIModels, overrides[string(routing.ProviderOpenAI)])

	appSettings, err := l.src.LoadAppSettings(ctx)
	if err != nil {
		return nil, err
	}
	if raw, ok := appSettings[KeyDefaultProviderPreference]; ok {
		if pref, valid := routing.ParsePreference(raw); valid {
			snap.DefaultPreference = pref
		} else {
			utils.Zlog.Warn("Ignoring unknown provider preference setting", zap.String("value", raw))
		}
	}
	if prompt, ok := appSettings[KeySystemPromptOverride]; ok {
		snap.SystemPromptOverride = prompt
	}

	utils.Zlog.Debug("Settings snapshot loaded",
		zap.Int("gemini_bindings", len(snap.GeminiModels)),
		zap.Int("openai_bindings", len(snap.OpenAIModels)),
		zap.String("default_preference", string(snap.DefaultPreference)))

	return snap, nil
}
