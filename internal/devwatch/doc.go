// Package devwatch reloads gadget sources during development.
//
// A Watcher walks the gadget directory with fastwalk, watches every
// directory with fsnotify and filters files by a doublestar pattern such as
// "**/*.{html,js,css}". File contents are fingerprinted with BLAKE2b so
// editors that rewrite a file without changing it do not trigger a reload.
// Bursts of events are debounced into one sorted batch of changes.
//
// Example Usage:
//
//	w, err := devwatch.New(cfg.Dev.GadgetDir, devwatch.Options{Pattern: cfg.Dev.Pattern})
//	if err != nil {
//		return err
//	}
//	go w.Run(ctx, func(changes []devwatch.Change) { reloadRootPage() })
package devwatch
