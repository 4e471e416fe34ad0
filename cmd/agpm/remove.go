package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/consoleui"
	"github.com/agpm-dev/agpm/internal/manifest"
)

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a declared dependency",
	}
	cmd.AddCommand(newRemoveDepCmd())
	return cmd
}

func newRemoveDepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dep <type> <alias>",
		Short: "Remove one [<type>.<alias>] entry from agpm.toml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			rt := manifest.ResourceType(args[0])
			alias := args[1]

			raw, err := readRawManifest(dir)
			if err != nil {
				return err
			}
			table, ok := raw[string(rt)].(map[string]any)
			if !ok || table[alias] == nil {
				return fmt.Errorf("no dependency %s.%s declared in %s", rt, alias, manifest.ProjectFile)
			}
			delete(table, alias)

			if err := writeRawManifest(dir, raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), consoleui.Success(fmt.Sprintf("removed %s.%s", rt, alias)))
			return nil
		},
	}
}

func readRawManifest(dir string) (map[string]any, error) {
	path := dir + string(os.PathSeparator) + manifest.ProjectFile
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", manifest.ProjectFile, err)
	}
	return raw, nil
}

func writeRawManifest(dir string, raw map[string]any) error {
	path := dir + string(os.PathSeparator) + manifest.ProjectFile
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", manifest.ProjectFile, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	return enc.Encode(raw)
}
