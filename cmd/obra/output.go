package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/obracontrol/internal/obra/report"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

// printStructured writes v as JSON or YAML when --output asks for it and
// reports whether it did. Text output is left to the caller.
func printStructured(v any) bool {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		return true
	case "yaml":
		if err := writeYAML(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		return true
	}
	return false
}

// writeYAML goes through JSON so field names match the json tags used
// everywhere else, then drops the JSON flow style.
func writeYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// confirm asks a yes/no question. --yes answers for the user; without a
// terminal there is nobody to ask and the answer is no.
func confirm(title, description string) bool {
	if assumeYes {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return err == nil && ok
}

// parseIDs parses entry id arguments.
func parseIDs(args ...string) ([]schema.ID, error) {
	ids := make([]schema.ID, 0, len(args))
	for _, arg := range args {
		id, err := schema.ParseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func money(v float64) string {
	return report.FormatCurrency(v)
}

// exitErr reports err and exits. Only for failures before the workspace is
// open; afterwards commands return errors to withApp so it can flush.
func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
