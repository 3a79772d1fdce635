package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadSettle = 200 * time.Millisecond

// Watch reloads configFile whenever it changes on disk and hands the validated
// result to onChange. Invalid files are logged and ignored. The watch stops when
// ctx is cancelled.
func Watch(ctx context.Context, configFile string, onChange func(*Config)) error {
	if configFile == "" || onChange == nil {
		return nil
	}
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return fmt.Errorf("config watcher: resolve path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still observed.
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer func() {
			if errClose := watcher.Close(); errClose != nil {
				log.Errorf("config watcher: close error: %v", errClose)
			}
		}()
		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(reloadSettle, func() { reload(abs, onChange) })
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher: %v", errWatch)
			}
		}
	}()
	return nil
}

func reload(path string, onChange func(*Config)) {
	cfg, err := LoadConfig(path)
	if err != nil {
		log.Warnf("config reload skipped: %v", err)
		return
	}
	warnings, err := ValidateConfig(cfg)
	for _, w := range warnings {
		log.Warnf("config: %s", w)
	}
	if err != nil {
		log.Warnf("config reload rejected: %v", err)
		return
	}
	log.Infof("config reloaded from %s", path)
	onChange(cfg)
}
