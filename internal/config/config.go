package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tetraminz/sign_labels/internal/archive"
	"github.com/tetraminz/sign_labels/internal/dataset"
	"github.com/tetraminz/sign_labels/internal/labels"
	"github.com/tetraminz/sign_labels/internal/logging"
)

// EnvRuntime selects an overlay file "<base>.<env>.toml" next to the base config.
const EnvRuntime = "SIGN_LABELS_ENV"

// Run modes.
const (
	ModeFrames       = "frames"
	ModeRedistribute = "redistribute"
)

const defaultDataDir = "data/Phonexi-2014T"

// Config is the full run configuration.
type Config struct {
	Mode           string                     `toml:"mode"`
	Annotations    []string                   `toml:"annotations"`
	SourceDir      string                     `toml:"source_dir"`
	PriorArchive   string                     `toml:"prior_archive"`
	FramePolicy    string                     `toml:"frame_policy"`
	FallbackFrames int                        `toml:"fallback_frames"`
	VerifyFrames   bool                       `toml:"verify_frames"`
	Format         string                     `toml:"format"`
	DBPath         string                     `toml:"db"`
	Partitions     map[string]PartitionConfig `toml:"partitions"`
	Log            logging.Config             `toml:"log"`
}

// PartitionConfig names the key prefix and output path of one split.
type PartitionConfig struct {
	Tag    string `toml:"tag"`
	Output string `toml:"output"`
}

// Load decodes the TOML file at path and, when EnvRuntime is set, the
// overlay next to it. An empty path yields an empty Config.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}

	env := strings.TrimSpace(os.Getenv(EnvRuntime))
	if env == "" {
		return cfg, nil
	}
	overlay := overlayPath(path, env)
	if _, err := os.Stat(overlay); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("stat config overlay %q: %w", overlay, err)
	}
	if _, err := toml.DecodeFile(overlay, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config overlay %q: %w", overlay, err)
	}
	return cfg, nil
}

func overlayPath(path, env string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + env + ext
}

// Finalize fills defaults for the selected mode and validates the result.
func (c *Config) Finalize() error {
	if c.Mode == "" {
		c.Mode = ModeFrames
	}
	if c.FallbackFrames == 0 {
		c.FallbackFrames = labels.DefaultFallbackFrames
	}
	if c.Partitions == nil {
		c.Partitions = make(map[string]PartitionConfig, len(dataset.Partitions))
	}
	for _, p := range dataset.Partitions {
		pc := c.Partitions[string(p)]
		if pc.Tag == "" {
			pc.Tag = defaultTag(c.Mode, p)
		}
		if pc.Output == "" {
			pc.Output = defaultOutput(c.Mode, p)
		}
		c.Partitions[string(p)] = pc
	}
	return c.Validate()
}

// Validate checks a finalized config.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeFrames:
		if strings.TrimSpace(c.SourceDir) == "" {
			return errors.New("source_dir is required in frames mode")
		}
	case ModeRedistribute:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if len(c.Annotations) == 0 {
		return errors.New("at least one annotation file is required")
	}
	if c.FallbackFrames < 0 {
		return errors.New("fallback_frames must be >= 0")
	}
	if _, err := labels.ParseFramePolicy(c.FramePolicy); err != nil {
		return err
	}
	if _, err := archive.ParseFormat(c.Format); err != nil {
		return err
	}
	for name := range c.Partitions {
		if !isPartition(name) {
			return fmt.Errorf("unknown partition %q", name)
		}
	}

	seen := make(map[string]string, len(dataset.Partitions))
	for _, p := range dataset.Partitions {
		pc := c.Partitions[string(p)]
		if strings.Contains(pc.Tag, "/") || strings.TrimSpace(pc.Tag) == "" {
			return fmt.Errorf("partition %s: invalid tag %q", p, pc.Tag)
		}
		if other, dup := seen[pc.Output]; dup {
			return fmt.Errorf("partitions %s and %s share output %q", other, p, pc.Output)
		}
		seen[pc.Output] = string(p)
	}
	return nil
}

// Partition returns the settings of one split.
func (c Config) Partition(p dataset.Partition) PartitionConfig {
	return c.Partitions[string(p)]
}

func isPartition(name string) bool {
	for _, p := range dataset.Partitions {
		if string(p) == name {
			return true
		}
	}
	return false
}

func defaultTag(mode string, p dataset.Partition) string {
	if mode == ModeRedistribute {
		return "SI_" + string(p)
	}
	return string(p)
}

func defaultOutput(mode string, p dataset.Partition) string {
	if mode == ModeRedistribute {
		return filepath.Join(defaultDataDir, "newlabels."+string(p))
	}
	return filepath.Join(defaultDataDir, "SI_labels."+string(p))
}
