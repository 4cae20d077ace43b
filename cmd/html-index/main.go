// Command html-index builds a tree-style index.html over the XML feeds in a
// directory, asking for a display name per feed.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/shopify-export/internal/cli"
	"github.com/Sternrassler/shopify-export/pkg/config"
	"github.com/Sternrassler/shopify-export/pkg/export"
	"github.com/Sternrassler/shopify-export/pkg/logging"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	dir := flag.String("dir", "", "directory holding the XML feeds (overrides OUTPUT_DIR)")
	caption := flag.String("caption", "", "index caption (overrides INDEX_CAPTION)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "html-index: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Export.OutputDir = *dir
	}
	if *caption != "" {
		cfg.Export.IndexCaption = *caption
	}
	logger := logging.Setup(cfg.LoggingConfig("html-index"))

	p := cli.NewPrompter(os.Stdin, os.Stdout)
	if err := run(cfg.Export.OutputDir, cfg.Export.IndexCaption, p); err != nil {
		logger.Error().Err(err).Str("dir", cfg.Export.OutputDir).Msg("Index generation failed")
		os.Exit(1)
	}
}

// run asks for a display name per feed. Names from an existing index are
// offered as defaults; otherwise the file name without extension.
func run(dir, caption string, p *cli.Prompter) error {
	files, err := export.ListXMLFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		p.Printf("No XML files found in %s.\n", dir)
		return nil
	}

	known, err := export.ReadDisplayNames(filepath.Join(dir, export.IndexFileName))
	if err != nil {
		return err
	}

	data := export.TreeIndexData{Caption: caption}
	for _, file := range files {
		def := known[file]
		if def == "" {
			def = strings.TrimSuffix(file, ".xml")
		}

		name, err := p.AskDefault(fmt.Sprintf("Enter display name for %s: ", file), def)
		if errors.Is(err, io.EOF) {
			name = def
		} else if err != nil {
			return err
		}
		data.Entries = append(data.Entries, export.IndexEntry{File: file, Name: name})
	}

	if _, err := export.WriteTreeIndex(dir, data); err != nil {
		return err
	}
	p.Printf("%s has been generated successfully.\n", export.IndexFileName)
	return nil
}
