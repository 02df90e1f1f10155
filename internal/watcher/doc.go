// Package watcher keeps active folders current: it watches a document
// folder recursively and turns raw filesystem noise into the debounced,
// ignore-filtered {add, change, remove} events the lifecycle manager
// converts into incremental indexing tasks.
//
// Three stages sit between the filesystem and the orchestrator's mailbox:
//
//   - Detection: fsnotify where the platform supports it, with a
//     polling sweep as fallback (network mounts, exhausted inotify
//     watches). Both feed the same pipeline.
//   - Write-stability gate: a create/modify is held until the file's
//     size and mtime have been quiet for the stability window, so a
//     document still being written is never handed to the parser
//     half-finished.
//   - Debouncing: events for the same path within the debounce window
//     coalesce (last one wins; add then remove cancels; change while an
//     add is pending stays an add), and everything matching the ignore
//     set (.folder-mcp cache, VCS internals, configured excludes,
//     .gitignore patterns) is dropped before it costs an indexing task.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/watched/folder"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    // one coalesced batch per quiet window
//	    applyToLifecycle(batch)
//	}
package watcher
