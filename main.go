package main

import (
	"os"

	"github.com/achilleasa/nagi/cmd"
	"github.com/achilleasa/nagi/log"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "nagi"
	app.Usage = "build two-level BVH acceleration structures for path traced scenes"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "set log level (debug, info, notice, warning, error)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "compile",
			Usage: "compile text scene representation into a binary compressed format",
			Description: `
Parse a scene definition from a wavefront obj file, build a BVH tree for each
mesh and a top level BVH tree for the mesh instances and merge them into a
single GPU-friendly node list.

The optimized scene data is then written to a zip archive which can be
inspected with the info command.`,
			ArgsUsage: "scene_file1.obj scene_file2.obj ...",
			Flags:     cmd.CompilerFlags,
			Action:    cmd.CompileScene,
		},
		{
			Name:      "info",
			Usage:     "display information about a compiled scene",
			ArgsUsage: "scene_file.zip",
			Action:    cmd.ShowSceneInfo,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.New("nagi").Error(err)
		os.Exit(1)
	}
}
