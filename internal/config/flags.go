package config

import (
	"flag"
	"strings"

	"github.com/tetraminz/sign_labels/internal/dataset"
	"github.com/tetraminz/sign_labels/internal/labels"
)

// StringList is a repeatable flag; each value may also be comma separated.
type StringList []string

func (s *StringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *StringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

// Flags binds the run settings to a FlagSet. Only flags given on the
// command line override the config file.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath     string
	Annotations    StringList
	SourceDir      string
	PriorArchive   string
	FramePolicy    string
	FallbackFrames int
	VerifyFrames   bool
	Format         string
	DBPath         string
	LogLevel       string
	LogFormat      string
	LogFile        string

	tags    map[dataset.Partition]*string
	outputs map[dataset.Partition]*string
}

// RegisterFlags adds the run flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{
		fs:      fs,
		tags:    make(map[dataset.Partition]*string, len(dataset.Partitions)),
		outputs: make(map[dataset.Partition]*string, len(dataset.Partitions)),
	}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to TOML config file")
	fs.Var(&f.Annotations, "annotations", "Annotation CSV/XLSX path (repeatable)")
	fs.StringVar(&f.SourceDir, "source_dir", "", "Root of <tag>/<name>/*.png frame directories")
	fs.StringVar(&f.PriorArchive, "prior", "", "Prior label archive")
	fs.StringVar(&f.FramePolicy, "policy", "", "Frame policy for prior entries: recount or reprefix")
	fs.IntVar(&f.FallbackFrames, "fallback_frames", labels.DefaultFallbackFrames, "Synthetic frame count when nothing else is known")
	fs.BoolVar(&f.VerifyFrames, "verify_frames", false, "Check PNG magic bytes when counting frames")
	fs.StringVar(&f.Format, "format", "", "Archive format: pickle or json")
	fs.StringVar(&f.DBPath, "db", "", "Record the run into this SQLite ledger")
	fs.StringVar(&f.LogLevel, "log_level", "", "debug, info, warn or error")
	fs.StringVar(&f.LogFormat, "log_format", "", "text or json")
	fs.StringVar(&f.LogFile, "log_file", "", "Also write logs to this rotating file")
	for _, p := range dataset.Partitions {
		f.tags[p] = fs.String(string(p)+"_tag", "", "Key prefix of the "+string(p)+" partition")
		f.outputs[p] = fs.String(string(p)+"_out", "", "Output archive of the "+string(p)+" partition")
	}
	return f
}

// Load reads the config file, sets mode when non-empty, applies explicit
// flags and finalizes the result.
func (f *Flags) Load(mode string) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	if mode != "" {
		cfg.Mode = mode
	}
	f.Apply(&cfg)
	if err := cfg.Finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply copies every flag that was set on the command line into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "annotations":
			cfg.Annotations = append([]string(nil), f.Annotations...)
		case "source_dir":
			cfg.SourceDir = f.SourceDir
		case "prior":
			cfg.PriorArchive = f.PriorArchive
		case "policy":
			cfg.FramePolicy = f.FramePolicy
		case "fallback_frames":
			cfg.FallbackFrames = f.FallbackFrames
		case "verify_frames":
			cfg.VerifyFrames = f.VerifyFrames
		case "format":
			cfg.Format = f.Format
		case "db":
			cfg.DBPath = f.DBPath
		case "log_level":
			cfg.Log.Level = f.LogLevel
		case "log_format":
			cfg.Log.Format = f.LogFormat
		case "log_file":
			cfg.Log.File = f.LogFile
		}
	})
	for _, p := range dataset.Partitions {
		tag, out := *f.tags[p], *f.outputs[p]
		if tag == "" && out == "" {
			continue
		}
		if cfg.Partitions == nil {
			cfg.Partitions = make(map[string]PartitionConfig, len(dataset.Partitions))
		}
		pc := cfg.Partitions[string(p)]
		if tag != "" {
			pc.Tag = tag
		}
		if out != "" {
			pc.Output = out
		}
		cfg.Partitions[string(p)] = pc
	}
}
