package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/utils"
	"github.com/spf13/cobra"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Inspect crop region files",
}

var regionsShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the resolved crop regions and suggested bboxes",
	Long: `Resolve a regions file into global coordinates and print each crop with
its bbox and the bbox its polygons would need with the given padding.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		crops, err := loadRegionsArg(args)
		if err != nil {
			return err
		}
		pad, _ := cmd.Flags().GetFloat64("padding")
		printRegions(cmd.OutOrStdout(), crops, pad)
		return nil
	},
}

var regionsValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check that a regions file can be used for a run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		crops, err := loadRegionsArg(args)
		if err != nil {
			return err
		}
		names := make([]string, len(crops))
		for i, c := range crops {
			names[i] = c.Name
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d crops (%s)\n", len(crops), strings.Join(names, ", "))
		return nil
	},
}

// loadRegionsArg loads the file named by args, or run.regions_file.
func loadRegionsArg(args []string) ([]artifacts.CropRegion, error) {
	path := GetConfig().Run.RegionsFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return nil, fmt.Errorf("no regions file given")
	}
	return artifacts.LoadRegions(path)
}

func printRegions(w io.Writer, crops []artifacts.CropRegion, pad float64) {
	for _, c := range crops {
		_, _ = fmt.Fprintf(w, "%s\n", c.Name)
		_, _ = fmt.Fprintf(w, "  bbox:      %s\n", formatBBox(c.BBox))

		pts := append([]utils.Point{}, c.OriginalPolygon...)
		pts = append(pts, c.EffectivePolygon...)
		for _, r := range c.Regions {
			pts = append(pts, r.Polygon...)
		}
		if len(pts) > 0 {
			_, _ = fmt.Fprintf(w, "  suggested: %s (padding %.3f)\n", formatBBox(utils.BBoxWithPadding(pts, pad)), pad)
		}
		_, _ = fmt.Fprintf(w, "  polygon:   %d points, effective %d points\n",
			len(c.OriginalPolygon), len(c.EffectivePolygon))
		for _, r := range c.Regions {
			_, _ = fmt.Fprintf(w, "  region %s: %d points\n", r.Name, len(r.Polygon))
		}
	}
}

func formatBBox(b utils.NormBBox) string {
	return fmt.Sprintf("x=%.3f y=%.3f w=%.3f h=%.3f", b.X, b.Y, b.Width, b.Height)
}

func init() {
	rootCmd.AddCommand(regionsCmd)
	regionsCmd.AddCommand(regionsShowCmd, regionsValidateCmd)
	regionsShowCmd.Flags().Float64("padding", artifacts.CropPadding, "padding added around polygons (normalized)")
}
