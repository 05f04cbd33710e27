package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
)

// reindexDelay coalesces bursts of writes to the same file.
const reindexDelay = 500 * time.Millisecond

// Indexer maintains the FTS index: a full pass on start, then
// incremental reindexing driven by filesystem events on each agent's
// MEMORY.md and memory/ directory.
type Indexer struct {
	store    *store.Store
	home     config.Home
	registry *agents.Registry
	log      *slog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer // absolute path → debounce timer
}

// NewIndexer builds a memory indexer.
func NewIndexer(st *store.Store, home config.Home, reg *agents.Registry, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{store: st, home: home, registry: reg, log: log, pending: map[string]*time.Timer{}}
}

// Start reindexes every agent and begins watching for changes.
func (ix *Indexer) Start(ctx context.Context) error {
	for _, agent := range ix.registry.List() {
		if err := ix.ReindexAgent(ctx, agent.ID); err != nil {
			ix.log.Warn("initial memory index failed", "agent", agent.ID, "error", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("memory watcher: %w", err)
	}
	ix.watcher = w
	for _, agent := range ix.registry.List() {
		for _, dir := range []string{agent.BaseDir, ix.home.MemoryDir(agent.ID)} {
			if err := w.Add(dir); err != nil {
				ix.log.Warn("watching memory dir failed", "dir", dir, "error", err)
			}
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ix.cancel = cancel
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ix.loop(loopCtx)
	}()
	return nil
}

// Stop halts the watcher.
func (ix *Indexer) Stop() {
	if ix.cancel != nil {
		ix.cancel()
	}
	if ix.watcher != nil {
		ix.watcher.Close()
	}
	ix.wg.Wait()
}

func (ix *Indexer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			ix.handleEvent(ctx, ev)
		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			ix.log.Warn("memory watcher error", "error", err)
		}
	}
}

func (ix *Indexer) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	agentID, rel, ok := ix.resolve(ev.Name)
	if !ok || !indexable(rel) {
		return
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if err := ix.store.ClearMemoryFile(ctx, agentID, rel); err != nil {
			ix.log.Warn("clearing removed memory file failed", "agent", agentID, "file", rel, "error", err)
		}
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// Debounce: editors fire many writes for one save.
	ix.mu.Lock()
	if timer, ok := ix.pending[ev.Name]; ok {
		timer.Stop()
	}
	name := ev.Name
	ix.pending[name] = time.AfterFunc(reindexDelay, func() {
		ix.mu.Lock()
		delete(ix.pending, name)
		ix.mu.Unlock()
		if err := ix.indexFile(ctx, agentID, name, rel); err != nil {
			ix.log.Warn("reindexing memory file failed", "agent", agentID, "file", rel, "error", err)
		}
	})
	ix.mu.Unlock()
}

// ReindexAgent rebuilds the index for one agent: MEMORY.md plus every
// daily log under memory/.
func (ix *Indexer) ReindexAgent(ctx context.Context, agentID string) error {
	memPath := ix.home.MemoryPath(agentID)
	if err := ix.indexFile(ctx, agentID, memPath, "MEMORY.md"); err != nil {
		return err
	}
	entries, err := os.ReadDir(ix.home.MemoryDir(agentID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		abs := filepath.Join(ix.home.MemoryDir(agentID), e.Name())
		rel := filepath.Join("memory", e.Name())
		if err := ix.indexFile(ctx, agentID, abs, rel); err != nil {
			return err
		}
	}
	return nil
}

// indexFile chunks one file and replaces its index entries. A missing
// file clears its entries.
func (ix *Indexer) indexFile(ctx context.Context, agentID, absPath, relPath string) error {
	b, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return ix.store.ClearMemoryFile(ctx, agentID, relPath)
	}
	if err != nil {
		return err
	}
	chunks := splitChunks(relPath, string(b))
	return ix.store.IndexMemoryChunks(ctx, agentID, relPath, chunks)
}

// Search runs a full-text query over an agent's memory.
func (ix *Indexer) Search(ctx context.Context, agentID, query string, limit int) ([]store.MemoryHit, error) {
	return ix.store.SearchMemory(ctx, agentID, query, limit)
}

// resolve maps an absolute event path to (agentID, path relative to the
// agent dir).
func (ix *Indexer) resolve(abs string) (agentID, rel string, ok bool) {
	agentsRoot := filepath.Join(ix.home.Dir(), "agents")
	r, err := filepath.Rel(agentsRoot, abs)
	if err != nil || strings.HasPrefix(r, "..") {
		return "", "", false
	}
	parts := strings.SplitN(filepath.ToSlash(r), "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// indexable limits the watcher to the memory surface: MEMORY.md and the
// daily logs. Soul and heartbeat documents are prompt inputs, not
// memory.
func indexable(rel string) bool {
	rel = filepath.ToSlash(rel)
	return rel == "MEMORY.md" || strings.HasPrefix(rel, "memory/")
}
