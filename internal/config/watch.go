package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch monitors path and calls onChange with the newly loaded Config each
// time the file is written or replaced. It runs until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and onChange is not
// called, so the previous config stays active.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config)) error {
	return watch(ctx, path, logger, onChange, nil)
}

// watch calls ready, if set, once the watch is registered
func watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config), ready func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(path)

	// The directory is watched rather than the file: saving by rename
	// replaces the inode, which would silently drop a watch on the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger.Info().Str("path", path).Msg("Watching configuration for changes")
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadConfig(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("Config reload failed, keeping previous config")
				continue
			}

			logger.Info().Str("path", path).Msg("Configuration reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}
