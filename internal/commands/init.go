package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/config"
	"github.com/artificers/ingest/internal/importer"
	"github.com/artificers/ingest/internal/mapping"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create the directory layout and a default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.OutOrStdout(), absDir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")

	return cmd
}

func runInit(out io.Writer, dir string, force bool) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	}

	cfg := config.Default()
	dirs := []string{
		cfg.Ingest.IncomingDir,
		filepath.Join(cfg.Ingest.IncomingDir, string(importer.Processed)),
		filepath.Join(cfg.Ingest.IncomingDir, string(importer.Failed)),
		cfg.Ingest.MappingsDir,
		filepath.Dir(cfg.Ingest.RunLog),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	example := filepath.Join(dir, cfg.Ingest.MappingsDir, "example.yaml")
	if err := writeIfAbsent(example, mapping.Template("example"), force); err != nil {
		return fmt.Errorf("writing example mapping: %w", err)
	}

	gitignore := filepath.Join(dir, ".gitignore")
	if err := writeIfAbsent(gitignore, []byte("incoming/\nlogs/\n"), false); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	fmt.Fprintf(out, "Initialized ingest workspace at %s\n", dir)
	return nil
}

func writeIfAbsent(path string, data []byte, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}
