package history

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
	"github.com/router-for-me/chatrelay/internal/cache"
	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/router-for-me/chatrelay/internal/kv"
	log "github.com/sirupsen/logrus"
)

const defaultWriteTimeout = 10 * time.Second

// Options tunes a Store. Zero values fall back to the config defaults.
type Options struct {
	CacheTTL         time.Duration
	CacheMaxSize     int
	PersistDelay     time.Duration
	StorageTTL       time.Duration
	SweepProbability float64
	WriteTimeout     time.Duration

	Scheduler Scheduler
	Now       func() time.Time
	Rand      func() float64
}

// OptionsFromConfig maps the history config section onto Options.
func OptionsFromConfig(cfg *config.HistoryConfig) Options {
	return Options{
		CacheTTL:         cfg.GetCacheTTL(),
		CacheMaxSize:     cfg.GetCacheMaxSize(),
		PersistDelay:     cfg.GetPersistDelay(),
		StorageTTL:       cfg.GetStorageTTL(),
		SweepProbability: cfg.GetSweepProbability(),
	}
}

func (o Options) withDefaults() Options {
	var defaults *config.HistoryConfig
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaults.GetCacheTTL()
	}
	if o.PersistDelay <= 0 {
		o.PersistDelay = defaults.GetPersistDelay()
	}
	if o.StorageTTL <= 0 {
		o.StorageTTL = defaults.GetStorageTTL()
	}
	if o.SweepProbability < 0 {
		o.SweepProbability = 0
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Scheduler == nil {
		o.Scheduler = RealScheduler{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Cached        int   `json:"cached"`
	PendingWrites int   `json:"pendingWrites"`
	CacheHits     int64 `json:"cacheHits"`
	CacheMisses   int64 `json:"cacheMisses"`
	Writes        int64 `json:"writes"`
	WriteFailures int64 `json:"writeFailures"`
	Coalesced     int64 `json:"coalesced"`
}

type pendingWrite struct {
	timer    Timer
	seq      uint64
	snapshot *Transcript
}

// Store is the session history service. Construct one per process and share it.
//
// The cache and the pending-write table are guarded by mu so that
// "cancel old timer, replace cache entry, arm new timer" is atomic per session.
type Store struct {
	backend kv.Store
	cache   *cache.TTLCache[*Transcript]
	opts    Options

	mu      sync.Mutex
	pending map[string]*pendingWrite
	seq     uint64
	writing sync.WaitGroup
	// flushed stops fire from joining writing once Flush has begun waiting on it.
	flushed bool

	writes        atomic.Int64
	writeFailures atomic.Int64
	coalesced     atomic.Int64
}

// NewStore creates a history store backed by backend.
func NewStore(backend kv.Store, opts Options) *Store {
	opts = opts.withDefaults()
	c := cache.New[*Transcript](cache.Config{
		Name:    "history",
		MaxSize: opts.CacheMaxSize,
		TTL:     opts.CacheTTL,
	})
	c.SetClock(opts.Now)
	return &Store{
		backend: backend,
		cache:   c,
		opts:    opts,
		pending: make(map[string]*pendingWrite),
	}
}

// Get returns a copy of the session transcript. A cache hit does no I/O. On a miss
// the durable record is loaded; when it is absent or unreadable an empty transcript
// is returned instead. Get never fails.
func (s *Store) Get(ctx context.Context, sessionID string) *Transcript {
	s.maybeSweep()

	if t, ok := s.cache.Get(sessionID); ok {
		return t.Clone()
	}

	loaded := s.load(ctx, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent SchedulePersist may have populated the cache meanwhile; it wins.
	if current, ok := s.cache.Peek(sessionID); ok {
		return current.Clone()
	}
	s.cache.Set(sessionID, loaded)
	return loaded.Clone()
}

func (s *Store) load(ctx context.Context, sessionID string) *Transcript {
	entry := log.WithField("session_id", sessionID)
	data, err := s.backend.Get(ctx, StorageKey(sessionID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			entry.Warnf("history: load failed, continuing with empty transcript: %v", err)
		}
		return NewTranscript(sessionID, s.opts.Now())
	}

	var t Transcript
	if errUnmarshal := json.Unmarshal(data, &t); errUnmarshal != nil {
		entry.Warnf("history: stored transcript is not valid JSON, ignoring it: %v", errUnmarshal)
		return NewTranscript(sessionID, s.opts.Now())
	}
	t.SessionID = sessionID
	if t.Messages == nil {
		t.Messages = []Message{}
	}
	if over := len(t.Messages) - MaxMessages; over > 0 {
		t.Messages = t.Messages[over:]
	}
	return &t
}

// SchedulePersist makes t visible to subsequent Gets immediately and arms a
// debounced durable write. A later call for the same session before the delay
// elapses replaces the pending write, which then never runs.
func (s *Store) SchedulePersist(t *Transcript) {
	if t == nil || t.SessionID == "" {
		return
	}
	snapshot := t.Clone()
	snapshot.Revision++
	id := snapshot.SessionID

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(id, snapshot)
	if prev, ok := s.pending[id]; ok {
		prev.timer.Stop()
		s.coalesced.Add(1)
		middleware.RecordHistoryWrite("coalesced", 0)
	}
	s.seq++
	seq := s.seq
	pw := &pendingWrite{seq: seq, snapshot: snapshot}
	pw.timer = s.opts.Scheduler.AfterFunc(s.opts.PersistDelay, func() { s.fire(id, seq) })
	s.pending[id] = pw
}

// fire runs when a debounce timer elapses. Superseded timers are ignored even if
// Stop lost the race with the callback.
func (s *Store) fire(sessionID string, seq uint64) {
	s.mu.Lock()
	pw, ok := s.pending[sessionID]
	if !ok || pw.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.pending, sessionID)
	tracked := !s.flushed
	if tracked {
		s.writing.Add(1)
	}
	s.mu.Unlock()

	if tracked {
		defer s.writing.Done()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	_ = s.write(ctx, pw.snapshot)
}

func (s *Store) write(ctx context.Context, snapshot *Transcript) error {
	record := snapshot.Clone()
	record.LastUpdated = s.opts.Now()

	entry := log.WithField("session_id", record.SessionID)
	data, err := json.Marshal(record)
	if err != nil {
		s.writeFailures.Add(1)
		entry.Errorf("history: encode transcript: %v", err)
		return err
	}

	start := time.Now()
	if err = s.backend.Put(ctx, StorageKey(record.SessionID), data, s.opts.StorageTTL); err != nil {
		s.writeFailures.Add(1)
		middleware.RecordHistoryWrite("failed", time.Since(start))
		entry.Warnf("history: persist failed: %v", err)
		return err
	}
	s.writes.Add(1)
	middleware.RecordHistoryWrite("ok", time.Since(start))
	entry.Debugf("history: persisted %d messages (revision %d)", len(record.Messages), record.Revision)

	s.mu.Lock()
	if current, ok := s.cache.Peek(record.SessionID); ok && current == snapshot {
		s.cache.Set(record.SessionID, record)
	}
	s.mu.Unlock()
	return nil
}

// Flush writes every pending transcript now and waits for in-flight writes.
// Persists scheduled after Flush still run but are no longer awaited.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.flushed = true
	flushing := make([]*pendingWrite, 0, len(s.pending))
	for id, pw := range s.pending {
		pw.timer.Stop()
		flushing = append(flushing, pw)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, pw := range flushing {
		if err := s.write(ctx, pw.snapshot); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.writing.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if len(flushing) > 0 {
		log.Infof("history: flushed %d pending transcripts", len(flushing))
	}
	return errors.Join(errs...)
}

// Delete drops the session from the cache, cancels any pending write and removes
// the durable record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if pw, ok := s.pending[sessionID]; ok {
		pw.timer.Stop()
		delete(s.pending, sessionID)
	}
	s.cache.Delete(sessionID)
	s.mu.Unlock()
	return s.backend.Delete(ctx, StorageKey(sessionID))
}

// Ping checks the durable backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	cs := s.cache.GetStats()
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	return Stats{
		Cached:        cs.Size,
		PendingWrites: pending,
		CacheHits:     cs.Hits,
		CacheMisses:   cs.Misses,
		Writes:        s.writes.Load(),
		WriteFailures: s.writeFailures.Load(),
		Coalesced:     s.coalesced.Load(),
	}
}

// Sweep evicts expired cache entries and purges expired durable records when the
// backend supports it.
func (s *Store) Sweep(ctx context.Context) {
	if evicted := s.cache.EvictExpired(); evicted > 0 {
		log.Debugf("history: evicted %d idle transcripts", evicted)
	}
	sweeper, ok := s.backend.(kv.Sweeper)
	if !ok {
		return
	}
	purged, err := sweeper.PurgeExpired(ctx)
	if err != nil {
		log.Warnf("history: purge expired records: %v", err)
		return
	}
	if purged > 0 {
		log.Debugf("history: purged %d expired records", purged)
	}
}

// StartSweeper runs Sweep on interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = cache.DefaultEvictionInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// maybeSweep evicts expired cache entries with low probability on unrelated reads.
func (s *Store) maybeSweep() {
	if s.opts.SweepProbability > 0 && s.opts.Rand() < s.opts.SweepProbability {
		s.cache.EvictExpired()
	}
}
