// Package spool serves envelopes that other emitters drop into a directory as
// JSON or CBOR files. The directory is reloaded whenever its contents change.
package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"github.com/SeanFellowes/TelemetryCore/pkg/codec"
	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

// DefaultDebounce is how long Watch waits for a burst of file events to settle
// before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Option configures a Spool.
type Option func(*Spool)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Spool) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithOnReload registers a callback invoked after every reload with the number
// of envelopes loaded and the aggregated load error, if any.
func WithOnReload(fn func(loaded int, err error)) Option {
	return func(s *Spool) {
		s.onReload = fn
	}
}

// Spool holds the envelopes currently present in a directory.
type Spool struct {
	dir      string
	logger   *slog.Logger
	debounce time.Duration
	onReload func(int, error)

	reloadMu sync.Mutex

	mu        sync.RWMutex
	envelopes []envelope.Envelope
	lastErr   error
}

// Open loads every envelope file in dir. Files that fail to decode are
// skipped and reported through LastError; only an unreadable directory makes
// Open fail.
func Open(dir string, logger *slog.Logger, opts ...Option) (*Spool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve spool directory: %w", err)
	}

	s := &Spool{
		dir:      absDir,
		logger:   logger.With("component", "spool", "dir", absDir),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			return nil, err
		}
	}
	return s, nil
}

// Dir returns the absolute spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Snapshot returns copies of the loaded envelopes ordered by file name.
func (s *Spool) Snapshot() []envelope.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]envelope.Envelope, len(s.envelopes))
	for i, e := range s.envelopes {
		out[i] = e.Clone()
	}
	return out
}

// Len reports how many envelopes are loaded.
func (s *Spool) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.envelopes)
}

// LastError returns the decode failures of the most recent reload, or nil.
func (s *Spool) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Reload rereads the directory. Envelopes that decode replace the previous
// set even when other files fail; the failures come back as a
// *multierror.Error. A directory that cannot be listed leaves the previous
// set in place.
func (s *Spool) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	var (
		loaded []envelope.Envelope
		result *multierror.Error
	)
	for _, entry := range entries {
		if entry.IsDir() || !isEnvelopeFile(entry.Name()) {
			continue
		}
		e, err := codec.DecodeFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		loaded = append(loaded, e)
	}

	loadErr := result.ErrorOrNil()

	s.mu.Lock()
	s.envelopes = loaded
	s.lastErr = loadErr
	s.mu.Unlock()

	if loadErr != nil {
		s.logger.Warn("Some spool files could not be loaded", "loaded", len(loaded), "error", loadErr)
	} else {
		s.logger.Debug("Spool reloaded", "loaded", len(loaded))
	}
	if s.onReload != nil {
		s.onReload(len(loaded), loadErr)
	}

	return loadErr
}

// Watch reloads the spool whenever an envelope file is created, written,
// removed or renamed. It blocks until ctx is cancelled.
func (s *Spool) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	s.logger.Info("Watching spool directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isEnvelopeFile(filepath.Base(event.Name)) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(s.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				_ = s.Reload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Spool watcher error", "error", err)
		}
	}
}

// isEnvelopeFile accepts visible files with a known codec extension. Dot files
// are skipped so writers can stage a temporary file and rename it into place.
func isEnvelopeFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, err := codec.FormatFor(name)
	return err == nil
}
