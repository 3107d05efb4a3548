package cmd

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/virtcam/virtcamd/internal/config"
	"github.com/virtcam/virtcamd/internal/logging"
)

// CreateGenImagesCmd creates the gen-images command.
func CreateGenImagesCmd() *cobra.Command {
	var count int
	var resolution string
	var outDir string

	cmd := &cobra.Command{
		Use:   "gen-images",
		Short: "Generate random test images",
		Long: `Writes numbered random PNG images into a directory, suitable for ` +
			`feeding the directory source with --source-dir.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("genimages")

			if count <= 0 {
				logger.Error("Count must be positive", "count", count)
				os.Exit(1)
			}
			width, height, err := config.ParseResolution(resolution)
			if err != nil {
				logger.Error("Invalid resolution", "error", err)
				os.Exit(1)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				logger.Error("Cannot create output directory", "dir", outDir, "error", err)
				os.Exit(1)
			}

			rng := rand.New(rand.NewSource(rand.Int63()))
			for i := 0; i < count; i++ {
				path := filepath.Join(outDir, fmt.Sprintf("img_%04d.png", i))
				if err := writeRandomImage(path, width, height, rng); err != nil {
					logger.Error("Image generation failed", "path", path, "error", err)
					os.Exit(1)
				}
			}

			logger.Info("Images generated", "count", count, "dir", outDir)
		},
	}

	cmd.Flags().IntVar(&count, "count", 50, "Number of images to generate")
	cmd.Flags().StringVar(&resolution, "resolution", "480,640", "Image resolution as height,width")
	cmd.Flags().StringVar(&outDir, "out", "images", "Output directory")

	return cmd
}

// writeRandomImage fills the frame with randomly colored tiles so
// consecutive images are visibly distinct.
func writeRandomImage(path string, width, height int, rng *rand.Rand) error {
	const tile = 32

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for ty := 0; ty < height; ty += tile {
		for tx := 0; tx < width; tx += tile {
			c := color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 0xff,
			}
			for y := ty; y < ty+tile && y < height; y++ {
				for x := tx; x < tx+tile && x < width; x++ {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
