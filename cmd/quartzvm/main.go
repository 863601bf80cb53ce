// Command quartzvm is the operator-facing wrapper around the runtime
// library: it validates, inspects, and executes compiled .qvm module
// files by hand. The execution core itself never depends on this tool.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quartz-lang/quartzvm/env"
	"github.com/quartz-lang/quartzvm/module"
	"github.com/quartz-lang/quartzvm/validator"
	"github.com/quartz-lang/quartzvm/vm"
)

// hostVersion is the semver the bundled (empty) environment declares;
// module compatibility is checked against it before a run.
const hostVersion = "v1.0.0"

func main() {
	root := &cobra.Command{
		Use:           "quartzvm",
		Short:         "Validate, inspect, and run compiled quartz modules",
		Version:       hostVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(validateCmd(), runCmd(), dumpCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadModule(path string) (module.Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return module.Module{}, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := module.Decode(raw)
	if err != nil {
		return module.Module{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return m, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <module.qvm>",
		Short: "Decode a module file and run the full validator over it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			if err := validator.New(&m, env.New(hostVersion)).Verify(); err != nil {
				return err
			}
			hash := m.Hash()
			fmt.Printf("ok: %d chunks, %d constants, %d structs, %d enums\n",
				len(m.Chunks), len(m.Constants), len(m.Structs), len(m.Enums))
			fmt.Printf("hash: %s\n", hex.EncodeToString(hash[:]))
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var chunkID uint16
	var gasLimit uint64

	cmd := &cobra.Command{
		Use:   "run <module.qvm>",
		Short: "Execute a module's entry chunk against an empty environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			machine, err := vm.New(&m, env.New(hostVersion), vm.NewContext(gasLimit))
			if err != nil {
				return err
			}
			result, err := machine.InvokeEntryChunk(chunkID, nil)
			gasUsed := machine.Context().GasUsed()
			if err != nil {
				return fmt.Errorf("%w (gas used: %d)", err, gasUsed)
			}
			if dv, ok := result.DefaultValue(); ok {
				fmt.Println(dv)
			} else {
				fmt.Printf("<%s>\n", result.Kind())
			}
			fmt.Printf("gas used: %d\n", gasUsed)
			return nil
		},
	}

	cmd.Flags().Uint16Var(&chunkID, "chunk", 0, "Entry chunk id to invoke")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 0, "Gas limit (0 = unmetered)")
	return cmd
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <module.qvm>",
		Short: "Write a module's canonical CBOR diagnostic form to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			out, err := m.Canonical()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}
