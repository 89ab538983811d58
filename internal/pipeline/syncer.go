package pipeline

import "context"

// Syncer exports the knowledge-base tree after a run. The concrete
// exporter (git push, rsync, object storage) lives outside the engine;
// the git-sync phase only decides when to call it and with what message.
type Syncer interface {
	Sync(ctx context.Context, message string) error
}

// NoopSyncer satisfies Syncer without exporting anything.
type NoopSyncer struct{}

// Sync implements Syncer.
func (NoopSyncer) Sync(context.Context, string) error { return nil }
