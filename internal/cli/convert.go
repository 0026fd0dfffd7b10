package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ralt/pipdeb/internal/acquire"
	"github.com/ralt/pipdeb/internal/backend"
	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/naming"
	"github.com/ralt/pipdeb/internal/orchestrator"
	"github.com/ralt/pipdeb/internal/repository"
	"github.com/ralt/pipdeb/internal/resolver"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Registered build backends.
	_ "github.com/ralt/pipdeb/internal/backend/dpkg"
	_ "github.com/ralt/pipdeb/internal/backend/native"
)

// NewConvertCmd creates the convert command
func NewConvertCmd() *cobra.Command {
	var (
		configFile string
		reportFile string
	)

	cmd := &cobra.Command{
		Use:   "convert [flags] REQUIREMENT...",
		Short: "Convert Python packages to Debian packages",
		Long: `Downloads the given requirements plus their transitive dependencies,
converts each one to a Debian binary package and collects the results
in the repository directory. Packages already present in the
repository are reused instead of rebuilt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}

			logrus.Info("Starting package conversion...")
			logrus.Debugf("Configuration: %+v", config)

			return runConversion(cmd.Context(), config, reportFile, args)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a configuration file")
	cmd.Flags().StringP("repository", "r", ".", "Directory where converted archives are collected")
	cmd.Flags().String("name-prefix", "python", "Prefix prepended to converted package names")
	cmd.Flags().StringSlice("no-name-prefix", nil, "Package converted without the name prefix (repeatable)")
	cmd.Flags().StringSlice("rename", nil, "Explicit package rename as FROM,TO (repeatable)")
	cmd.Flags().StringSlice("use-system-package", nil, "Use an existing Debian package as FROM,TO (repeatable)")
	cmd.Flags().String("install-prefix", "", "Custom installation prefix for converted packages")
	cmd.Flags().StringSlice("backend", nil, "Ordered build backend fallback list (dpkg, native)")
	cmd.Flags().BoolP("auto-install", "y", false, "Automatically install configured build dependencies")
	cmd.Flags().Int("max-download-attempts", 10, "Number of attempts to download source distributions")
	cmd.Flags().Duration("build-timeout", 0, "Time limit for a single backend invocation (0 disables)")
	cmd.Flags().Bool("retain-build-dirs", false, "Keep build directories around for debugging")
	cmd.Flags().StringVar(&reportFile, "report-dependencies", "", "Append the computed dependency relationships to a file")

	return cmd
}

// loadConfig merges the configuration file (when given) with the
// command line flags; flags win.
func loadConfig(cmd *cobra.Command, configFile string) (*models.ConversionConfig, error) {
	v := viper.New()
	v.SetDefault("name_prefix", "python")
	v.SetDefault("repository", ".")
	v.SetDefault("backends", []string{"dpkg", "native"})
	v.SetDefault("max_download_attempts", 10)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &models.ConvertError{
				Type: models.ErrInvalidConfig,
				Err:  fmt.Errorf("failed to read %s: %w", configFile, err),
			}
		}
		logrus.Debugf("Loaded configuration from %s", v.ConfigFileUsed())
	}

	var config models.ConversionConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConvertError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("failed to parse configuration: %w", err),
		}
	}
	if config.Packages == nil {
		config.Packages = make(map[string]models.PackageOptions)
	}

	flags := cmd.Flags()
	if flags.Changed("repository") || config.Repository == "" {
		config.Repository, _ = flags.GetString("repository")
	}
	if flags.Changed("name-prefix") {
		config.NamePrefix, _ = flags.GetString("name-prefix")
	}
	if flags.Changed("install-prefix") {
		config.InstallPrefix, _ = flags.GetString("install-prefix")
	}
	if flags.Changed("backend") {
		config.Backends, _ = flags.GetStringSlice("backend")
	}
	if flags.Changed("auto-install") {
		config.AutoInstall, _ = flags.GetBool("auto-install")
	}
	if flags.Changed("max-download-attempts") {
		config.MaxDownloadAttempts, _ = flags.GetInt("max-download-attempts")
	}
	if flags.Changed("build-timeout") {
		config.BuildTimeout, _ = flags.GetDuration("build-timeout")
	}
	if flags.Changed("retain-build-dirs") {
		config.RetainBuildDirs, _ = flags.GetBool("retain-build-dirs")
	}

	noPrefix, _ := flags.GetStringSlice("no-name-prefix")
	for _, name := range noPrefix {
		options := config.Packages[strings.ToLower(name)]
		options.NoNamePrefix = true
		config.Packages[strings.ToLower(name)] = options
	}

	renames, _ := flags.GetStringSlice("rename")
	for _, pair := range renames {
		from, to, err := splitPair(pair, "rename")
		if err != nil {
			return nil, err
		}
		options := config.Packages[from]
		options.Rename = to
		config.Packages[from] = options
	}

	systemPackages, _ := flags.GetStringSlice("use-system-package")
	for _, pair := range systemPackages {
		from, to, err := splitPair(pair, "use-system-package")
		if err != nil {
			return nil, err
		}
		options := config.Packages[from]
		options.SystemPackage = to
		config.Packages[from] = options
	}

	return &config, nil
}

func splitPair(pair, flag string) (string, string, error) {
	from, to, ok := strings.Cut(pair, ",")
	if !ok || from == "" || to == "" {
		return "", "", &models.ConvertError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("--%s expects FROM,TO, got %q", flag, pair),
		}
	}
	return strings.ToLower(strings.TrimSpace(from)), strings.TrimSpace(to), nil
}

func runConversion(ctx context.Context, config *models.ConversionConfig, reportFile string, expressions []string) error {
	buildDir, err := os.MkdirTemp("", "pipdeb-")
	if err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: err}
	}
	logrus.Debugf("Created build directory: %s", buildDir)
	defer func() {
		if config.RetainBuildDirs {
			logrus.Infof("Retaining build directory: %s", buildDir)
			return
		}
		os.RemoveAll(buildDir)
		logrus.Debugf("Removed build directory: %s", buildDir)
	}()

	transformer := naming.NewTransformer(
		config.NamePrefix,
		config.NameOverrides(),
		config.SystemPackages(),
		config.NoPrefixNames(),
	)
	acquirer := acquire.NewPipAcquirer(buildDir, config.MaxDownloadAttempts)

	primary, toBuild, err := resolver.New(acquirer, config, transformer).Resolve(ctx, expressions)
	if err != nil {
		return err
	}

	repo, err := repository.New(config.Repository)
	if err != nil {
		return &models.ConvertError{Type: models.ErrFileOp, Err: err}
	}

	var backends []backend.Backend
	for _, name := range config.Backends {
		builder, err := backend.New(name, config)
		if err != nil {
			return &models.ConvertError{Type: models.ErrInvalidConfig, Err: err}
		}
		backends = append(backends, builder)
	}

	started := time.Now()
	artifacts, relationships, err := orchestrator.New(config, repo, backends).Convert(ctx, primary, toBuild)
	if err != nil {
		return err
	}

	logrus.Infof("Converted %d packages in %s", len(artifacts), time.Since(started).Round(time.Second))
	for _, artifact := range artifacts {
		logrus.Debugf("Artifact: %s", artifact)
	}
	if len(relationships) > 0 {
		fmt.Println(strings.Join(relationships, ", "))
	}

	if reportFile != "" {
		if err := appendReport(reportFile, relationships); err != nil {
			return &models.ConvertError{Type: models.ErrFileOp, Err: err}
		}
		logrus.Infof("Wrote dependency relationships to %s", reportFile)
	}
	return nil
}

// appendReport appends the relationship expressions to a file, so
// successive conversion runs can accumulate one dependency list.
func appendReport(path string, relationships []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, relationship := range relationships {
		if _, err := fmt.Fprintln(f, relationship); err != nil {
			return err
		}
	}
	return nil
}
