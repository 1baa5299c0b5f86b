package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/matzehuels/postbuild/pkg/cache"
	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/rewrite"
	"github.com/matzehuels/postbuild/pkg/variant"
)

// hashCommand creates the command that prints the cache key of an image.
func (c *CLI) hashCommand() *cobra.Command {
	var (
		width, quality int
		formats        string
		short          bool
	)
	cmd := &cobra.Command{
		Use:   "hash <image>",
		Short: "Print the cache key and variant names for an image",
		Long: `Print the content-addressed cache key an image gets for the given
optimization parameters, and the file names its variants would be written to.`,
		Example: `  postbuild hash src/assets/images/hero.jpg --width 800 --quality 80 --formats webp,avif`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := afero.ReadFile(c.FS, path)
			if err != nil {
				return errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", path)
			}
			req, err := rewrite.ParseRequest(strconv.Itoa(width), strconv.Itoa(quality), formats)
			if err != nil {
				return err
			}
			key := cache.Key(data, req.Width, req.Quality, req.Formats)
			if short {
				fmt.Fprintln(out, key)
				return nil
			}

			printKeyValue("key", key)
			printKeyValue("sha256", cache.Hash(data))
			for _, name := range variantNames(path, key, req) {
				printFile(iconArrow, name)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&width, "width", "w", 0, "target width in pixels")
	cmd.Flags().IntVarP(&quality, "quality", "q", 80, "encoding quality (0-100)")
	cmd.Flags().StringVarP(&formats, "formats", "f", "webp,avif", "modern formats (comma-separated)")
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the key")
	_ = cmd.MarkFlagRequired("width")
	return cmd
}

// variantNames lists the file names Generate would write for path.
func variantNames(path, key string, req variant.Request) []string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext) + "-" + key
	names := []string{base + ext}
	for _, f := range []string{variant.FormatWebP, variant.FormatAVIF} {
		if req.Wants(f) {
			names = append(names, base+"."+f, base+"@2x."+f)
		}
	}
	return names
}
