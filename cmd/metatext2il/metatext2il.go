package main

import (
	"os"

	"metatext2il/internal/cmd"
	"metatext2il/internal/configpaths"
	"metatext2il/internal/log"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

func main() {
	userCfg := os.Getenv("METATEXT2IL_CONFIG")
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name("metatext2il"),
		kong.Description("Compile tab-separated metadata definition text into an ILAsm module description"),
		kong.UsageOnError(),
		// Load configuration from JSON/YAML/TOML in priority order; flags/env override config values.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	ctx.Bind(logger)

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}
