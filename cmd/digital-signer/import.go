// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"digital-signer/pkg/backend"
	"digital-signer/pkg/signing"
	"digital-signer/pkg/store"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		docType string
		name    string
		format  string
		title   string
		draft   bool
	)
	cmd := &cobra.Command{
		Use:   "import <file.pdf>",
		Short: "Register a document and its printed PDF for a print format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docType == "" || name == "" {
				return fmt.Errorf("--doctype and --name are required")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := backend.PageCount(data); err != nil {
				return err
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			status := store.StatusSubmitted
			if draft {
				status = store.StatusDraft
			}
			ctx := cmd.Context()
			if err := st.PutDocument(ctx, store.Document{DocType: docType, Name: name, Status: status, Title: title}); err != nil {
				return err
			}
			if err := st.PutPrintFormat(ctx, store.PrintFormat{Name: format, DocType: docType}); err != nil {
				return err
			}
			ref := signing.DocumentRef{DocType: docType, Name: name}
			if err := a.renditions().Put(ref, format, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s imported with print format %q\n", ref, format)
			return nil
		},
	}
	cmd.Flags().StringVar(&docType, "doctype", "", "document type, e.g. \"Sales Invoice\"")
	cmd.Flags().StringVar(&name, "name", "", "document name")
	cmd.Flags().StringVar(&format, "format", "Standard", "print format of this rendition")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().BoolVar(&draft, "draft", false, "register as draft (not signable)")
	return cmd
}
