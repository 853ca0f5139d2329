package main

import (
	"flag"
	"log"

	"github.com/danmuck/serialrelay/internal/config"
)

const defaultPath = "serialrelay.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		link := cfg.Device
		if link == "" {
			link = cfg.Address
		}
		log.Printf("Validated config at %s (link=%s profile=%d)", *input, link, len(cfg.Profile))
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}
