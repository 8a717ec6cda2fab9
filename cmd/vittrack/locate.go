package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	vittrack "github.com/menta2k/vit-tracker"
	"github.com/menta2k/vit-tracker/pkg/client"
	"github.com/menta2k/vit-tracker/pkg/llamacpp"
	"github.com/menta2k/vit-tracker/pkg/locate"
	"github.com/menta2k/vit-tracker/pkg/ollama"
	"github.com/menta2k/vit-tracker/pkg/processing"
	"github.com/menta2k/vit-tracker/pkg/vision"
)

var locateImage string

var locateCmd = &cobra.Command{
	Use:   "locate --image FILE|URL",
	Short: "Find the box of the main subject in an image with the configured locator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := processing.NewProcessor().LoadImageSmart(locateImage)
		if err != nil {
			return err
		}
		l, err := newLocator()
		if err != nil {
			return err
		}
		box, subject, err := l.Locate(cmd.Context(), img)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"label": subject.Label, "confidence": subject.Confidence}).Info("Subject located")

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"box":     fmt.Sprintf("%d,%d,%d,%d", box.X, box.Y, box.Width, box.Height),
			"subject": subject,
		})
	},
}

func init() {
	locateCmd.Flags().StringVar(&locateImage, "image", "", "image file or URL")
	if err := locateCmd.MarkFlagRequired("image"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(locateCmd)
}

func newVisionClient() (client.VisionClient, error) {
	switch cfg.Locate.Backend {
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.Locate.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := ollama.NewClient(cfg.Locate.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// newLocator builds the configured initial-box locator
func newLocator() (vittrack.Locator, error) {
	if cfg.Locate.Backend == "saliency" {
		return vision.NewLocator(nil), nil
	}
	c, err := newVisionClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Locate.Backend, err)
	}
	return locate.NewLocator(c, locate.Options{
		Model:         cfg.Locate.Model,
		Prompt:        locate.DefaultPrompt,
		MaxDim:        cfg.Locate.MaxDim,
		Quality:       cfg.Locate.Quality,
		MinConfidence: cfg.Locate.MinConfidence,
		Logger:        log,
	}), nil
}
