package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/zipentry"
	ziphttp "github.com/meigma/zipentry/http"
)

const envPrefix = "ZIPENTRY"

// app holds state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "zipentry",
		Short:         "Create, inspect, verify and extract ZIP archives",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			return a.initLogger(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.zipentry.yaml)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("password", "", "password for encrypted entries")
	_ = a.v.BindPFlag("log-level", flags.Lookup("log-level")) //nolint:errcheck // flag is defined above
	_ = a.v.BindPFlag("password", flags.Lookup("password"))   //nolint:errcheck // flag is defined above

	cmd.AddCommand(
		newCreateCmd(a),
		newInspectCmd(a),
		newVerifyCmd(a),
		newExtractCmd(a),
	)
	return cmd
}

// initConfig reads in the config file and ENV variables if set.
func (a *app) initConfig() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil //nolint:nilerr // no home directory means no default config
		}
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".zipentry")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && a.cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (a *app) initLogger(w io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	a.logger.Debug("configuration loaded", "config", a.v.ConfigFileUsed())
	return nil
}

func (a *app) password() string {
	return a.v.GetString("password")
}

// readEntries returns every entry of the archive in file order.
func readEntries(r *zipentry.Reader) ([]*zipentry.Entry, error) {
	var entries []*zipentry.Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}

// openedArchive is a Reader with the resource backing it.
type openedArchive struct {
	*zipentry.Reader
	close func() error
}

func (a *openedArchive) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// openArchive opens a local path or an http(s) URL and lists its entries.
func openArchive(ctx context.Context, path string, logger *slog.Logger) (*openedArchive, []*zipentry.Entry, error) {
	var a *openedArchive
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		src, err := ziphttp.NewSource(ctx, path, ziphttp.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open remote archive: %w", err)
		}
		a = &openedArchive{Reader: zipentry.NewReader(src, zipentry.ReadWithLogger(logger))}
	} else {
		af, err := zipentry.OpenFile(path, zipentry.ReadWithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		a = &openedArchive{Reader: af.Reader, close: af.Close}
	}
	entries, err := readEntries(a.Reader)
	if err != nil {
		_ = a.Close() //nolint:errcheck // best-effort cleanup
		return nil, nil, err
	}
	return a, entries, nil
}

// entrySummary totals the sizes of entries.
func entrySummary(entries []*zipentry.Entry) (files int, size uint64) {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files++
		size += e.UncompressedSize
	}
	return files, size
}

func parseZip64(s string) (zipentry.Zip64Policy, error) {
	switch strings.ToLower(s) {
	case "", "auto", zipentry.Zip64AsNecessary.String():
		return zipentry.Zip64AsNecessary, nil
	case zipentry.Zip64Never.String():
		return zipentry.Zip64Never, nil
	case zipentry.Zip64Always.String():
		return zipentry.Zip64Always, nil
	default:
		return 0, fmt.Errorf("unknown zip64 policy %q", s)
	}
}

func parseEncryption(s string) (zipentry.Encryption, error) {
	for _, enc := range []zipentry.Encryption{
		zipentry.EncryptionNone,
		zipentry.EncryptionWeak,
		zipentry.EncryptionAES128,
		zipentry.EncryptionAES256,
	} {
		if strings.EqualFold(s, enc.String()) {
			return enc, nil
		}
	}
	if s == "" {
		return zipentry.EncryptionNone, nil
	}
	return 0, fmt.Errorf("unknown encryption %q", s)
}
