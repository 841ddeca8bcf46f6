package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasgelfond/puffgres/internal/config"
)

const exampleMapping = `# Generated by "puffgres init". Rename and edit to describe one
# source relation -> turbopuffer namespace mapping (spec.md 3).
name = "example"
version = 1
columns = ["id", "title", "updated_at"]

[source]
schema = "public"
relation = "example"

[id]
column = "id"
type = "uint"

[membership]
mode = "all"

[target]
namespace = "example"

[versioning]
mode = "source_lsn"
`

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a mappings directory with an example mapping file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := os.Getenv("PUFFGRES_MAPPINGS_DIR")
			if dir == "" {
				dir = "mappings"
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return userErr(err)
			}

			path := filepath.Join(dir, "example.toml")
			if _, err := os.Stat(path); err == nil {
				return userErr(fmt.Errorf("%s already exists", path))
			}
			if err := os.WriteFile(path, []byte(exampleMapping), 0o644); err != nil {
				return userErr(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "set %s, %s, and %s, then run `puffgres apply`\n",
				"PUFFGRES_SOURCE_DSN", "PUFFGRES_TURBOPUFFER_API_KEY", envOrDefault())
			return nil
		},
	}
}

func envOrDefault() string {
	return fmt.Sprintf("%s (default %q)", "PUFFGRES_MAPPINGS_DIR", dirDefault())
}

func dirDefault() string {
	c, err := config.FromEnv()
	if err != nil {
		return "mappings"
	}
	return c.MappingsDir
}
