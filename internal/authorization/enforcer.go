package authorization

import (
	_ "embed"
	"path/filepath"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

// defaultPolicy lets any verified caller use the API. AUTH_POLICY_FILE
// replaces it.
//
//go:embed policy.csv
var defaultPolicy string

// Authorizer decides whether subject may call method on path.
type Authorizer interface {
	Enforce(subject, path, method string) (bool, error)
}

// Enforcer evaluates the route policy. A policy file is watched and
// reloaded on change; a file that fails to load leaves the previous policy
// in force.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	path     string
	log      *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewEnforcer(policyFile string, log *zap.Logger) (*Enforcer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var e *casbin.SyncedEnforcer
	if policyFile == "" {
		e, err = casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
	} else {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyFile))
	}
	if err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: e, path: policyFile, log: log.Named("authorization")}, nil
}

func (e *Enforcer) Enforce(subject, path, method string) (bool, error) {
	return e.enforcer.Enforce(strings.ToLower(strings.TrimSpace(subject)), path, strings.ToUpper(method))
}

// Reload re-reads the policy file.
func (e *Enforcer) Reload() error {
	if e.path == "" {
		return nil
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		e.log.Warn("authorization.reload_rejected", zap.String("file", e.path), zap.Error(err))
		return err
	}
	e.log.Info("authorization.reloaded", zap.String("file", e.path))
	return nil
}

// Watch reloads the policy whenever the file changes. The directory is
// watched so editors and mounted volumes that swap the file are seen.
func (e *Enforcer) Watch() error {
	if e.path == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(e.path)); err != nil {
		_ = w.Close()
		return err
	}
	e.watcher = w
	e.done = make(chan struct{})

	target := filepath.Clean(e.path)
	go func() {
		defer close(e.done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					_ = e.Reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.log.Warn("authorization.watch_error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (e *Enforcer) Close() error {
	e.mu.Lock()
	w, done := e.watcher, e.done
	e.watcher = nil
	e.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
