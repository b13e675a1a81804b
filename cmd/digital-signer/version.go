// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"digital-signer/pkg/updater"
	"digital-signer/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var checkURL string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "digital-signer %s\n", version.String())
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			if checkURL == "" {
				return nil
			}
			res, err := updater.Client{}.Check(cmd.Context(), version.CurrentVersion, checkURL)
			if err != nil {
				return fmt.Errorf("comprobar actualizaciones: %w", err)
			}
			if !res.HasUpdate {
				fmt.Fprintln(out, "Up to date.")
				return nil
			}
			fmt.Fprintf(out, "Update available: %s -> %s %s\n", res.CurrentVersion, res.LatestVersion, res.UpdateURL)
			if res.Notes != "" {
				fmt.Fprintln(out, res.Notes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&checkURL, "check", os.Getenv("DIGITAL_SIGNER_UPDATE_URL"), "release manifest URL to check for a newer version")
	return cmd
}
