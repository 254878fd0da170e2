package command

import (
	"cmp"
	"flag"
	"io"
	"log/slog"

	"github.com/joeycumines/ticktree/internal/config"
	"github.com/joeycumines/ticktree/internal/logging"
)

// logFlags are the logging flags shared by commands that run trees.
type logFlags struct {
	file   string
	level  string
	format string
}

func (f *logFlags) setup(fs *flag.FlagSet) {
	fs.StringVar(&f.file, "log-file", "", "Write JSON logs to this file (overrides log.file)")
	fs.StringVar(&f.level, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	fs.StringVar(&f.format, "log-format", "", "Log format for stderr: text, json (overrides log.format)")
}

// resolveLogConfig resolves log configuration from flags and config
// settings. Flag values take precedence; settings fill the gaps. File
// output is always JSON.
func resolveLogConfig(f logFlags, s config.Settings, stderr io.Writer) logging.Config {
	lc := logging.Config{
		Level:      cmp.Or(f.level, s.LogLevel),
		Format:     cmp.Or(f.format, s.LogFormat),
		File:       cmp.Or(f.file, s.LogFile),
		MaxSizeMB:  s.LogMaxSizeMB,
		MaxBackups: s.LogMaxFiles,
		Stderr:     stderr,
		Ring:       logging.NewRing(cmp.Or(s.LogBufferSize, 1000), slog.LevelDebug),
	}
	if lc.File != "" {
		lc.Format = "json"
	}
	return lc
}
