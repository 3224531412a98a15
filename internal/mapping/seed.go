package mapping

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtins returns the documents shipped with the engine (user, file,
// email), sorted by name.
func Builtins() ([]*Document, error) {
	files, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	docs := make([]*Document, 0, len(files))
	for _, f := range files {
		b, err := builtinFS.ReadFile(f)
		if err != nil {
			return nil, err
		}
		var doc Document
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("builtin %s: %w", path.Base(f), err)
		}
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("builtin %s: %w", path.Base(f), err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// Seed writes every built-in document the store does not have yet.
// Existing documents are never overwritten, so it is safe to run on
// every start.
func Seed(ctx context.Context, store Store) error {
	docs, err := Builtins()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		created, err := store.CreateIfAbsent(ctx, doc.Name, doc)
		if err != nil {
			return fmt.Errorf("seed %s: %w", doc.Name, err)
		}
		if created {
			slog.InfoContext(ctx, "seeded mapping", "entity", doc.Name)
		}
	}
	return nil
}
