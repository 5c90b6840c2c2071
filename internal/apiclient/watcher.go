package apiclient

import (
	"fmt"
	"path/filepath"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// sessionWatcher follows the session file's directory so sign-ins and sign-outs
// made by another process surface on this process's event stream.
type sessionWatcher struct {
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func (a *AuthClient) watch() error {
	dir := filepath.Dir(a.store.Path())
	if err := a.store.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	a.watcher = &sessionWatcher{
		watcher: watcher,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go a.runWatcher(a.watcher)
	return nil
}

func (w *sessionWatcher) stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (a *AuthClient) runWatcher(w *sessionWatcher) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != a.store.Path() {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			a.reloadFromDisk()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("session watcher error", zap.Error(err))
		}
	}
}

// reloadFromDisk compares the session file with the session in memory and
// reports the difference as an auth event.
func (a *AuthClient) reloadFromDisk() {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	stored, err := a.store.Load()
	if err != nil {
		a.logger.Debug("ignoring unreadable session file", zap.Error(err))
		return
	}

	a.stateMu.Lock()
	previous := a.current
	a.current = copySession(stored)
	a.loaded = true
	a.stateMu.Unlock()

	var eventType backend.AuthEventType
	switch {
	case stored == nil && previous == nil:
		return
	case stored == nil:
		eventType = backend.EventSignedOut
	case previous == nil || previous.User.ID != stored.User.ID:
		eventType = backend.EventSignedIn
	case previous.AccessToken != stored.AccessToken:
		eventType = backend.EventTokenRefreshed
	default:
		return
	}
	a.logger.Debug("session changed on disk", zap.String("event", string(eventType)))
	a.hub.publish(backend.AuthEvent{Type: eventType, Session: copySession(stored)})
}
