package buildpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"quire/internal/driver"
	"quire/internal/emit"
	"quire/internal/project"
)

// Clean removes the output directory and, when withCache is set, drops the
// filesystem module cache. The cache lock is held while it is dropped.
func Clean(ctx context.Context, cfg project.Config, withCache bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if withCache && cfg.Cache.Type == project.CacheFilesystem {
		compression, err := driver.ParseCompression(cfg.Cache.Compression)
		if err != nil {
			return err
		}
		disk, err := driver.OpenDiskCache(cfg.Cache.Directory, compression)
		if err != nil {
			return err
		}
		unlock, err := disk.Lock(ctx)
		if err != nil {
			return fmt.Errorf("lock module cache: %w", err)
		}
		err = disk.DropAll()
		if uerr := unlock(); err == nil {
			err = uerr
		}
		if err != nil {
			return fmt.Errorf("drop module cache: %w", err)
		}
		logger.Info("module cache dropped", "dir", disk.Dir())
	}
	keep := emit.OptionsFromConfig(cfg).Keep
	if withCache || len(keep) == 0 {
		if err := os.RemoveAll(cfg.Output.Path); err != nil {
			return fmt.Errorf("remove output: %w", err)
		}
		logger.Info("output removed", "dir", cfg.Output.Path)
		return nil
	}
	// the cache lives inside the output directory and stays
	entries, err := os.ReadDir(cfg.Output.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove output: %w", err)
	}
	for _, ent := range entries {
		if slices.Contains(keep, ent.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(cfg.Output.Path, ent.Name())); err != nil {
			return fmt.Errorf("remove output: %w", err)
		}
	}
	logger.Info("output removed", "dir", cfg.Output.Path, "kept", keep)
	return nil
}
