// showcfg prints the effective configuration after env overrides, with the
// transport chain the daemon would try.
package main

import (
	"fmt"
	"os"

	"telescribe/internal/config"
	"telescribe/internal/logging"
	"telescribe/internal/pipeline"

	"github.com/pelletier/go-toml/v2"
)

func main() {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	// Credentials stay out of terminal scrollback.
	if cfg.Cloud.APIKey != "" {
		cfg.Cloud.APIKey = "***"
	}
	if cfg.Publish.Password != "" {
		cfg.Publish.Password = "***"
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		panic(err)
	}
	fmt.Printf("# %s\n%s\n", cfg.Paths.ConfigPath, out)

	classifier, err := pipeline.Classifier(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	adapters, err := pipeline.Transports(cfg, classifier, logging.NewTestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for i, a := range adapters {
		fmt.Printf("transport %d: %s (%d Hz)\n", i+1, a.Kind(), a.SampleRate())
	}
}
