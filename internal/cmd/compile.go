// Package cmd defines the kong command surface of metatext2il.
package cmd

import (
	"log/slog"

	"metatext2il/internal/collector"
	"metatext2il/internal/ilasm"
)

// LogOptions configures logging; loadable from config files and env.
type LogOptions struct {
	Level string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"METATEXT2IL_LOG_LEVEL"`
	File  string `help:"Write logs to this file instead of the console" env:"METATEXT2IL_LOG_FILE"`
}

// CLI is the root command structure parsed by kong.
type CLI struct {
	Log LogOptions `embed:"" prefix:"log-"`

	Compile Compile       `cmd:"" default:"withargs" help:"Compile a metadata definition file to ILAsm text"`
	Check   Check         `cmd:"" help:"Parse and validate a definition file without writing output"`
	Config  ConfigCommand `cmd:"" help:"Configuration helpers"`
}

// Compile translates one definition file into one ILAsm file.
type Compile struct {
	Input  string `arg:"" help:"Metadata definition file" type:"existingfile"`
	Output string `arg:"" help:"Destination ILAsm file" type:"path"`
}

// Run is called by kong when the compile command is executed.
func (c *Compile) Run(logger *slog.Logger) error {
	logger.Info("Compiling metadata definition", "input", c.Input, "output", c.Output)

	col := collector.New(logger)
	if err := col.CollectPath(c.Input); err != nil {
		return err
	}
	md := col.Metadata()

	if err := ilasm.WriteFile(c.Output, md); err != nil {
		return err
	}

	logger.Info("Wrote ILAsm module",
		"output", c.Output,
		"functions", len(md.Funcs),
		"functionPointers", len(md.FuncPtrs),
		"interfaces", len(md.Interfaces),
		"enums", len(md.Enums),
		"structs", len(md.Structs),
		"guidConstants", len(md.GuidConsts))
	return nil
}

// Check parses and renders in memory without touching the output path,
// so encoding constraints are validated too.
type Check struct {
	Input string `arg:"" help:"Metadata definition file" type:"existingfile"`
}

// Run is called by kong when the check command is executed.
func (c *Check) Run(logger *slog.Logger) error {
	logger.Info("Checking metadata definition", "input", c.Input)

	col := collector.New(logger)
	if err := col.CollectPath(c.Input); err != nil {
		return err
	}
	if _, err := ilasm.Render(col.Metadata()); err != nil {
		return err
	}

	logger.Info("Definition is valid", "input", c.Input)
	return nil
}
