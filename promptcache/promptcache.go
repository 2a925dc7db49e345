// Package promptcache manages the lifecycle of a server-side prompt cache
// holding the knowledge base: creation, validation against a content hash,
// TTL refresh, self-healing recreation from local files, and the plain-file
// fallback for providers without cache support. One manager owns at most one
// live remote resource per session.
package promptcache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/storyloom/loom/assemble"
	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/session"
	"github.com/storyloom/loom/slogger"
)

// ErrSessionExpired signals that both the cache and the fallback file are
// unrecoverable and no local knowledge files exist to rebuild them. The
// caller must ask the user to reload the reference material.
var ErrSessionExpired = errors.New("promptcache: session expired, knowledge base must be reloaded")

// State of the cache lifecycle machine.
type State int

const (
	StateEmpty State = iota
	StateValid
	StateInvalid
	StateRecovering
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Mode identifies which remote resource currently carries the knowledge
// base. Only one is kept alive at a time.
type Mode string

const (
	ModeCache Mode = "cache"
	ModeFile  Mode = "file"
)

// Record describes the active remote resource. It is persisted so a
// restarted session can revalidate instead of recreating.
type Record struct {
	ResourceName string    `json:"resource_name"`
	ResourceURI  string    `json:"resource_uri,omitempty"`
	ContentHash  string    `json:"content_hash"`
	TokenCount   int       `json:"token_count"`
	CreateTime   time.Time `json:"create_time,omitempty"`
	ExpireTime   time.Time `json:"expire_time,omitempty"`
	Mode         Mode      `json:"mode"`
}

// ContentHash digests the knowledge-base text together with the system
// instruction and model ID. Any change to one of the three invalidates the
// cache. The knowledge text is built from path-sorted files, so the hash is
// independent of file insertion order.
func ContentHash(knowledgeText, systemInstruction, modelID string) string {
	h := blake3.New()
	for _, s := range []string{knowledgeText, systemInstruction, modelID} {
		var n [8]byte
		// Length-prefix each field so boundaries cannot alias.
		for i := 0; i < 8; i++ {
			n[i] = byte(uint64(len(s)) >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Options configure a Manager.
type Options struct {
	Caches llm.CacheService
	Files  llm.FileService
	Store  session.KV
	Logger slogger.Logger

	// TTL requested on cache creation and refresh. Default one hour.
	TTL time.Duration

	// CachingEnabled selects cache mode; when false the manager goes
	// straight to the file fallback.
	CachingEnabled bool
}

// Manager is the per-session cache lifecycle state machine.
type Manager struct {
	caches  llm.CacheService
	files   llm.FileService
	store   session.KV
	logger  slogger.Logger
	ttl     time.Duration
	caching bool

	mu    sync.Mutex
	state State
	rec   *Record
	dirty bool
}

// NewManager creates a manager in StateEmpty.
func NewManager(opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Manager{
		caches:  opts.Caches,
		files:   opts.Files,
		store:   opts.Store,
		logger:  opts.Logger,
		ttl:     opts.TTL,
		caching: opts.CachingEnabled,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Record returns a copy of the active record, or nil.
func (m *Manager) Record() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil
	}
	cp := *m.rec
	return &cp
}

// MarkDirty forces revalidation on the next EnsureValid call. Used by the
// knowledge watcher when local files change.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// Start restores the persisted record, if any, and revalidates it against
// the live service. Persisted data is never trusted blindly: a resource the
// provider no longer knows leaves the manager in StateEmpty.
func (m *Manager) Start(ctx context.Context) error {
	data, err := m.store.Load(ctx, session.KeyCacheRecord)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cache record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn("discarding corrupt cache record", "error", err)
		return m.store.Delete(ctx, session.KeyCacheRecord)
	}

	alive := false
	switch rec.Mode {
	case ModeCache:
		info, err := m.caches.GetCache(ctx, rec.ResourceName)
		if err == nil && info != nil {
			rec.ExpireTime = info.ExpireTime
			alive = true
		}
	case ModeFile:
		ok, err := m.files.IsFileAvailable(ctx, rec.ResourceName)
		alive = err == nil && ok
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if alive {
		m.rec = &rec
		m.state = StateValid
		m.logger.Info("restored cache record",
			"resource", rec.ResourceName, "mode", rec.Mode, "tokens", rec.TokenCount)
	} else {
		m.state = StateEmpty
		m.logger.Info("persisted cache resource is gone", "resource", rec.ResourceName)
	}
	return nil
}

// EnsureValid validates the active resource against the current knowledge
// base, refreshing, invalidating, and self-healing as needed. It returns the
// record the upcoming generation call should reference. An empty knowledge
// base with no live resource returns a nil record (nothing to cache).
func (m *Manager) EnsureValid(ctx context.Context, kb *assemble.KnowledgeBase, systemInstruction, modelID string) (*Record, error) {
	hash := ContentHash(kb.CombinedText(), systemInstruction, modelID)

	m.mu.Lock()
	state, rec, dirty := m.state, m.rec, m.dirty
	m.mu.Unlock()

	if state == StateValid && rec != nil && !dirty && rec.ContentHash == hash {
		if ok := m.refreshTTL(ctx, rec); ok {
			return m.Record(), nil
		}
		// The resource is gone; fall through to recovery.
		m.setState(StateInvalid)
	} else if state == StateValid || dirty {
		m.logger.Info("cache content hash changed", "state", state.String())
		m.setState(StateInvalid)
	}

	if kb.Empty() {
		if m.State() == StateInvalid || m.State() == StateFailed {
			m.setState(StateFailed)
			return nil, ErrSessionExpired
		}
		return nil, nil
	}
	return m.recover(ctx, kb, systemInstruction, modelID, hash)
}

// refreshTTL extends the cache TTL before a generation call. A refresh
// failure with the cache still alive is a soft success; a missing resource
// is the only hard failure.
func (m *Manager) refreshTTL(ctx context.Context, rec *Record) bool {
	if rec.Mode != ModeCache {
		ok, err := m.files.IsFileAvailable(ctx, rec.ResourceName)
		return err == nil && ok
	}
	info, err := m.caches.UpdateCacheTTL(ctx, rec.ResourceName, m.ttl)
	if err == nil {
		m.mu.Lock()
		m.rec.ExpireTime = info.ExpireTime
		m.mu.Unlock()
		return true
	}
	if errors.Is(err, llm.ErrCacheNotFound) {
		return false
	}
	if _, getErr := m.caches.GetCache(ctx, rec.ResourceName); getErr != nil {
		return false
	}
	m.logger.Warn("cache TTL refresh failed, cache still alive", "error", err)
	return true
}

// MaybeRefresh opportunistically extends the TTL when the cache is close to
// expiring. Called from the storage-accrual tick.
func (m *Manager) MaybeRefresh(ctx context.Context) {
	m.mu.Lock()
	rec := m.rec
	valid := m.state == StateValid
	m.mu.Unlock()
	if !valid || rec == nil || rec.Mode != ModeCache {
		return
	}
	if time.Until(rec.ExpireTime) > time.Minute {
		return
	}
	if !m.refreshTTL(ctx, rec) {
		m.setState(StateInvalid)
	}
}

// recover re-derives the knowledge parts from local files and recreates the
// remote resource. Cache mode first; providers without caching fall back to
// a plain file upload. After success the resource for the inactive mode is
// proactively deleted so the session never pays for two parallel copies.
func (m *Manager) recover(ctx context.Context, kb *assemble.KnowledgeBase, systemInstruction, modelID, hash string) (*Record, error) {
	m.setState(StateRecovering)
	prev := m.Record()

	rec, err := m.create(ctx, kb, systemInstruction, modelID, hash)
	if err != nil {
		m.setState(StateInvalid)
		return nil, fmt.Errorf("cache recovery: %w", err)
	}
	if rec == nil {
		// Neither caching nor file storage exists on this provider; the
		// knowledge base rides inline with every call.
		m.mu.Lock()
		m.rec = nil
		m.state = StateEmpty
		m.dirty = false
		m.mu.Unlock()
		return nil, nil
	}

	m.mu.Lock()
	m.rec = rec
	m.state = StateValid
	m.dirty = false
	m.mu.Unlock()

	if err := m.persist(ctx, rec); err != nil {
		m.logger.Warn("persisting cache record failed", "error", err)
	}
	m.cleanupInactive(ctx, rec, prev)
	m.logger.Info("cache recovered",
		"resource", rec.ResourceName, "mode", rec.Mode, "tokens", rec.TokenCount)
	return m.Record(), nil
}

func (m *Manager) create(ctx context.Context, kb *assemble.KnowledgeBase, systemInstruction, modelID, hash string) (*Record, error) {
	if m.caching {
		info, err := m.caches.CreateCache(ctx, llm.CreateCacheParams{
			Model:             modelID,
			SystemInstruction: systemInstruction,
			Messages:          kb.Messages(),
			TTL:               m.ttl,
			DisplayName:       "knowledge-" + hash[:12],
		})
		if err == nil {
			return &Record{
				ResourceName: info.Name,
				ContentHash:  hash,
				TokenCount:   info.TokenCount,
				CreateTime:   info.CreateTime,
				ExpireTime:   info.ExpireTime,
				Mode:         ModeCache,
			}, nil
		}
		if !errors.Is(err, llm.ErrCachingUnsupported) {
			return nil, err
		}
		m.logger.Info("provider does not support caching, using file fallback")
	}
	text := kb.CombinedText()
	info, err := m.files.UploadFile(ctx, "knowledge-"+hash[:12],
		strings.NewReader(text), "text/plain")
	if errors.Is(err, llm.ErrFilesUnsupported) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Record{
		ResourceName: info.Name,
		ResourceURI:  info.URI,
		ContentHash:  hash,
		TokenCount:   llm.EstimateTokens(text),
		CreateTime:   time.Now(),
		Mode:         ModeFile,
	}, nil
}

// cleanupInactive deletes whichever resource mode is not in use.
func (m *Manager) cleanupInactive(ctx context.Context, active, prev *Record) {
	switch active.Mode {
	case ModeCache:
		if prev != nil && prev.Mode == ModeCache && prev.ResourceName != active.ResourceName {
			if err := m.caches.DeleteCache(ctx, prev.ResourceName); err != nil && !errors.Is(err, llm.ErrCacheNotFound) {
				m.logger.Warn("cleanup of replaced cache failed", "error", err)
			}
		}
		if err := m.files.DeleteAllFiles(ctx); err != nil && !errors.Is(err, llm.ErrFilesUnsupported) {
			m.logger.Warn("cleanup of fallback files failed", "error", err)
		}
	case ModeFile:
		if prev != nil && prev.Mode == ModeCache {
			if err := m.caches.DeleteCache(ctx, prev.ResourceName); err != nil && !errors.Is(err, llm.ErrCacheNotFound) {
				m.logger.Warn("cleanup of stale cache failed", "error", err)
			}
		}
	}
}

// Release destroys the active resource and returns to StateEmpty.
func (m *Manager) Release(ctx context.Context) error {
	rec := m.Record()
	if rec == nil {
		m.setState(StateEmpty)
		return nil
	}
	var err error
	switch rec.Mode {
	case ModeCache:
		err = m.caches.DeleteCache(ctx, rec.ResourceName)
		if errors.Is(err, llm.ErrCacheNotFound) {
			err = nil
		}
	case ModeFile:
		err = m.files.DeleteAllFiles(ctx)
	}
	m.mu.Lock()
	m.rec = nil
	m.state = StateEmpty
	m.mu.Unlock()
	if derr := m.store.Delete(ctx, session.KeyCacheRecord); derr != nil && err == nil {
		err = derr
	}
	return err
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) persist(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Save(ctx, session.KeyCacheRecord, data)
}
