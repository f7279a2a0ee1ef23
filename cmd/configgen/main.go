package main

import (
	"flag"
	"os"

	"github.com/danmuck/dpapctl/internal/config"
	"github.com/danmuck/dpapctl/internal/logging"
	"github.com/rs/zerolog/log"
)

const defaultPath = "cmd/dpapctl/config.toml"

func main() {
	logging.ConfigureRuntime()
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal().Err(err).Str("path", *input).Msg("config invalid")
		}
		b, err := config.Marshal(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("render config")
		}
		log.Info().Str("path", *input).Msg("config valid")
		_, _ = os.Stdout.Write(b)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal().Err(err).Msg("write template")
	}
	log.Info().Str("path", *output).Msg("wrote config template")
}
