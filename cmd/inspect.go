package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parkscope/greencover/internal/coverage"
	"github.com/parkscope/greencover/internal/geo"
	"github.com/parkscope/greencover/internal/raster"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Describe a boundary or raster file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		switch strings.ToLower(filepath.Ext(path)) {
		case ".shp", ".geojson", ".json":
			return inspectBoundary(os.Stdout, path)
		case ".dat", ".bsq", ".img":
			return inspectRaster(os.Stdout, path)
		default:
			return eris.Wrapf(geo.ErrUnsupportedFormat, "inspect: %s", path)
		}
	},
}

var (
	checkBoundary string
	checkRaster   string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check boundary/raster coordinate system compatibility",
	RunE: func(cmd *cobra.Command, args []string) error {
		boundaries, err := geo.LoadBoundaries(checkBoundary)
		if err != nil {
			return err
		}
		if len(boundaries.Features) == 0 {
			return eris.Errorf("check: %s has no features", checkBoundary)
		}

		r, err := raster.Open(checkRaster)
		if err != nil {
			return err
		}
		defer r.Close()

		rec := geo.Reconcile(boundaries.Features[0].Geometry, boundaries.CRS, r.CRS())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Boundary CRS:\t%s (%s)\n", boundaries.CRS, boundaries.CRS.Kind())
		fmt.Fprintf(w, "Raster CRS:\t%s (%s)\n", r.CRS(), r.CRS().Kind())
		fmt.Fprintf(w, "Verdict:\t%s\n", rec.Status)
		if rec.Warning != "" {
			fmt.Fprintf(w, "Warning:\t%s\n", rec.Warning)
		}
		w.Flush()

		if rec.Status == geo.Incompatible {
			mismatch := &coverage.SpatialMismatchError{GeometryCRS: boundaries.CRS, RasterCRS: r.CRS()}
			fmt.Fprintln(os.Stderr, mismatch.Hint())
			return mismatch
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkBoundary, "boundary", "", "boundary file path")
	checkCmd.Flags().StringVar(&checkRaster, "raster", "", "raster file path")
	_ = checkCmd.MarkFlagRequired("boundary")
	_ = checkCmd.MarkFlagRequired("raster")
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(checkCmd)
}

func inspectBoundary(out io.Writer, path string) error {
	boundaries, err := geo.LoadBoundaries(path)
	if err != nil {
		return err
	}

	minX, minY, maxX, maxY := boundaries.Bounds()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", boundaries.Path)
	fmt.Fprintf(w, "CRS:\t%s (%s)\n", boundaries.CRS, boundaries.CRS.Kind())
	fmt.Fprintf(w, "Features:\t%d\n", len(boundaries.Features))
	fmt.Fprintf(w, "Bounds:\t[%.6f, %.6f] .. [%.6f, %.6f]\n", minX, minY, maxX, maxY)
	fmt.Fprintf(w, "Names:\t%s\n", strings.Join(boundaries.Names(), ", "))
	return w.Flush()
}

func inspectRaster(out io.Writer, path string) error {
	r, err := raster.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	gt := r.Transform()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", path)
	fmt.Fprintf(w, "Size:\t%d x %d, %d band(s)\n", r.Width(), r.Height(), r.Bands())
	fmt.Fprintf(w, "CRS:\t%s (%s)\n", r.CRS(), r.CRS().Kind())
	fmt.Fprintf(w, "Origin:\t(%.6f, %.6f)\n", gt[0], gt[3])
	fmt.Fprintf(w, "Pixel size:\t%.6f x %.6f\n", gt[1], gt[5])
	if nd, ok := r.NoData(); ok {
		fmt.Fprintf(w, "NoData:\t%g\n", nd)
	} else {
		fmt.Fprintf(w, "NoData:\t(none)\n")
	}
	return w.Flush()
}
