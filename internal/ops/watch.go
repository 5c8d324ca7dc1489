package ops

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/yanun0323/logs"
)

// Watch reloads the config file whenever it changes on disk and hands
// each successfully resolved config to onChange. Editors that replace
// the file are handled by watching the parent directory.
func Watch(ctx context.Context, path string, onChange func(Loaded)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// debounce bursts of write events
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logs.Errorf("config watcher: %+v", err)
		case <-pending:
			pending = nil
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("reload config %s: %+v", path, err)
				continue
			}
			logs.Infof("config %s reloaded", path)
			onChange(loaded)
		}
	}
}
