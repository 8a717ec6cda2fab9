package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	vittrack "github.com/menta2k/vit-tracker"
	"github.com/menta2k/vit-tracker/internal/config"
	"github.com/menta2k/vit-tracker/internal/utils"
	"github.com/menta2k/vit-tracker/pkg/types"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before every subcommand runs
	cfg *config.Config
	log = logrus.StandardLogger()
)

var rootCmd = &cobra.Command{
	Use:           "vittrack",
	Short:         "Single-object visual tracking with the VitTrack model",
	Version:       vittrack.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		log.SetLevel(level)
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		cfg, err = loadConfig(configPath)
		return err
	},
}

// loadConfig reads path, falling back to the default location and then to
// built-in defaults
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		c, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if def := config.GetConfigPath(); utils.FileExists(def) {
		c, err := config.LoadFromFile(def)
		if err != nil {
			return nil, err
		}
		log.WithField("path", def).Debug("Loaded config")
		return c, nil
	}
	return config.Default(), nil
}

// parseBox reads "x,y,w,h"
func parseBox(s string) (types.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.BoundingBox{}, fmt.Errorf("box must be x,y,w,h, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return types.BoundingBox{}, fmt.Errorf("box must be x,y,w,h, got %q", s)
		}
		v[i] = n
	}
	box := types.NewBoundingBox(v[0], v[1], v[2], v[3])
	if box.Empty() {
		return types.BoundingBox{}, fmt.Errorf("box %q has no area", s)
	}
	return box, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
