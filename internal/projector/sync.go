package projector

import (
	"context"
	"log/slog"

	"github.com/weftlabs/weft/internal/storage"
)

// Sync walks the workspace and brings the projection up to date:
//   - new/changed document files are parsed and projected
//   - documents whose file vanished are deleted (cascading their bindings)
func Sync(ctx context.Context, p *Projector, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := p.db.AllDocumentChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.ID] = struct{}{}

		if checksums[m.ID] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("document", m.ID), slog.String("error", err.Error()))
			continue
		}
		if err := p.Project(ctx, m.ID, data); err != nil {
			logger.Warn("sync: project failed", slog.String("document", m.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: projected", slog.String("document", m.ID))
		}
	}

	// Remove documents whose source file is gone.
	for id := range checksums {
		if _, ok := disk[id]; !ok {
			if err := p.db.DeleteDocument(id); err != nil {
				logger.Warn("sync: delete failed", slog.String("document", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale document", slog.String("document", id))
			}
		}
	}

	return nil
}
