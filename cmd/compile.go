package cmd

import (
	"github.com/achilleasa/nagi/asset/compiler"
	"github.com/achilleasa/nagi/asset/compiler/bvh"
	"github.com/urfave/cli"
)

// Flags shared by commands that build scene hierarchies.
var CompilerFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "split",
		Value: bvh.SAH.String(),
		Usage: "BLAS split method (middle, equal or sah)",
	},
	cli.StringFlag{
		Name:  "tlas-split",
		Value: bvh.SAH.String(),
		Usage: "TLAS split method (middle, equal or sah)",
	},
	cli.IntFlag{
		Name:  "max-leaf-size",
		Value: bvh.DefaultOptions().MaxLeafSize,
		Usage: "max number of primitives per BLAS leaf (1-255)",
	},
	cli.IntFlag{
		Name:  "buckets",
		Value: bvh.DefaultOptions().Buckets,
		Usage: "number of SAH buckets (2-64)",
	},
	cli.Float64Flag{
		Name:  "traversal-cost",
		Value: float64(bvh.DefaultOptions().TraversalCost),
		Usage: "SAH cost of traversing a node relative to a primitive intersection test",
	},
	cli.IntFlag{
		Name:  "workers",
		Value: compiler.DefaultOptions().Workers,
		Usage: "number of workers for building mesh hierarchies",
	},
}

// Build compiler options from command flags.
func compilerOptions(ctx *cli.Context) (compiler.Options, error) {
	opts := compiler.DefaultOptions()

	blasSplit, err := bvh.ParseSplitMethod(ctx.String("split"))
	if err != nil {
		return opts, err
	}
	tlasSplit, err := bvh.ParseSplitMethod(ctx.String("tlas-split"))
	if err != nil {
		return opts, err
	}

	opts.Blas.SplitMethod = blasSplit
	opts.Blas.MaxLeafSize = ctx.Int("max-leaf-size")
	opts.Blas.Buckets = ctx.Int("buckets")
	opts.Blas.TraversalCost = float32(ctx.Float64("traversal-cost"))

	opts.Tlas.SplitMethod = tlasSplit
	opts.Tlas.Buckets = opts.Blas.Buckets
	opts.Tlas.TraversalCost = opts.Blas.TraversalCost

	opts.Workers = ctx.Int("workers")
	return opts, nil
}
