package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/akave-ai/incidentd/internal/signature"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the signature of a stack trace read from stdin or --file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, _ := cmd.Flags().GetString("file")
		lines, _ := cmd.Flags().GetBool("lines")
		top, _ := cmd.Flags().GetInt("top")
		framework, _ := cmd.Flags().GetBool("framework")

		in := cmd.InOrStdin()
		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		cfg := signature.DefaultConfig()
		cfg.TopFrames = top
		cfg.IncludeLineNumber = lines
		cfg.FilterFrameworkFrames = framework
		return fingerprint(in, cmd.OutOrStdout(), cfg)
	},
}

func init() {
	fingerprintCmd.Flags().StringP("file", "f", "", "Read the stack trace from this file instead of stdin")
	fingerprintCmd.Flags().BoolP("lines", "l", false, "Include line numbers in frames")
	fingerprintCmd.Flags().IntP("top", "n", signature.DefaultConfig().TopFrames, "Number of frames kept after filtering")
	fingerprintCmd.Flags().Bool("framework", false, "Also drop framework frames")
	rootCmd.AddCommand(fingerprintCmd)
}

func fingerprint(r io.Reader, w io.Writer, cfg signature.Config) error {
	b, err := signature.NewBuilder(cfg)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stack trace: %w", err)
	}
	sig := b.FromStacktrace(string(raw))

	fmt.Fprintf(w, "class:  %s\n", sig.ExceptionClassName())
	fmt.Fprintln(w, "frames:")
	for _, f := range sig.Frames() {
		fmt.Fprintf(w, "  %s\n", f)
	}
	fmt.Fprintf(w, "canonical:\n%s\n", sig.Canonical())
	fmt.Fprintf(w, "hash:   %s\n", sig.Hash())
	return nil
}
