package ingest

import (
	"context"

	"github.com/artificers/ingest/internal/importer"
)

// ScanAndIngest ingests every CSV directly inside dir, one at a time and in
// name order. A failing file never stops the scan; cancellation does.
func (in *Ingester) ScanAndIngest(ctx context.Context, dir string) (Summary, error) {
	var sum Summary
	files, err := importer.Scan(dir)
	if err != nil {
		return sum, err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, _ := in.IngestFile(ctx, f.Path)
		sum.add(res)
	}
	in.deps.Log.Debug().Str("dir", dir).Int("files", sum.Files).Int("processed", sum.Processed).
		Int("failed", sum.Failed).Int("skipped", sum.Skipped).Msg("scan complete")
	return sum, nil
}
