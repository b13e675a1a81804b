// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"digital-signer/pkg/applog"
	"digital-signer/pkg/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "digital-signer",
		Short: "Visible PDF signatures with a PFX bundle or a USB security key",
		Long: `digital-signer signs the printed PDF of a submitted document and attaches
the signed copy to it. Signatures are placed either on every page (or a
page range) or at locations picked by clicking on a preview.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := a.load(); err != nil {
				return err
			}
			logPath, err := applog.Init("digital-signer", a.config().LogOptions())
			if err != nil {
				log.Printf("No se pudo inicializar logging persistente: %v", err)
			} else {
				log.Printf("Logging inicializado en: %s", logPath)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "config file (.toml, .yaml or .yml)")
	root.PersistentFlags().StringVar(&a.listen, "listen", "", "listen address, overrides server.listen")
	root.PersistentFlags().StringVar(&a.mode, "mode", "", "signing mode: password or usb_token, overrides signing.mode")

	root.AddCommand(
		newServeCmd(a),
		newProbeCmd(a),
		newFormatsCmd(a),
		newImportCmd(a),
		newSignCmd(a),
		newVersionCmd(),
	)
	return root
}
