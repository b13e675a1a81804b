// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"digital-signer/pkg/signing"
)

const credentialEnv = "DIGITAL_SIGNER_CREDENTIAL"

func newSignCmd(a *app) *cobra.Command {
	var (
		docType string
		name    string
		format  string
		all     bool
		pages   string
		at      []string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a document without a preview",
		Long: `Sign a document on every page (--all), on a page range (--pages "1,3-5")
or at explicit locations (--at page:x:y, repeatable, in PDF points from the
bottom-left corner). The password or PIN is read from ` + credentialEnv + `
or, when unset, from the first line of standard input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if docType == "" || name == "" {
				return fmt.Errorf("--doctype and --name are required")
			}
			loc, err := locationFromFlags(all, pages, at)
			if err != nil {
				return err
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			mode := a.signingMode()
			secret, err := readCredential(cmd.InOrStdin(), cmd.ErrOrStderr(), mode)
			if err != nil {
				return err
			}

			host := consoleHost{out: cmd.ErrOrStderr()}
			iv := signing.NewInvoker(a.backend(st), host, a.config().USBRetryInterval())
			ref, err := iv.Invoke(cmd.Context(), signing.SignRequest{
				Mode:        mode,
				Document:    signing.DocumentRef{DocType: docType, Name: name},
				PrintFormat: format,
				Credential:  signing.NewCredential(secret),
				Location:    loc,
			})
			if err != nil {
				host.Notify(signing.NoticeFor(err))
				return err
			}
			host.ReloadRecord(signing.DocumentRef{DocType: docType, Name: name}, ref)
			host.Notify(signing.SuccessNotice(mode))
			return nil
		},
	}
	cmd.Flags().StringVar(&docType, "doctype", "", "document type")
	cmd.Flags().StringVar(&name, "name", "", "document name")
	cmd.Flags().StringVar(&format, "format", "Standard", "print format")
	cmd.Flags().BoolVar(&all, "all", false, "sign every page")
	cmd.Flags().StringVar(&pages, "pages", "", "page range, e.g. 1,3-5")
	cmd.Flags().StringArrayVar(&at, "at", nil, "signature location page:x:y (repeatable)")
	return cmd
}

func locationFromFlags(all bool, pages string, at []string) (signing.LocationPayload, error) {
	set := 0
	for _, v := range []bool{all, pages != "", len(at) > 0} {
		if v {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("use exactly one of --all, --pages or --at")
	}
	switch {
	case all:
		return signing.AllPages(), nil
	case pages != "":
		return signing.PageRange(pages), nil
	}
	anchors := make(signing.AnchorList, 0, len(at))
	for _, spec := range at {
		a, err := parseAnchor(spec)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, a)
	}
	return anchors, nil
}

func parseAnchor(spec string) (signing.Anchor, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return signing.Anchor{}, fmt.Errorf("ubicacion invalida %q, se esperaba page:x:y", spec)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return signing.Anchor{}, fmt.Errorf("ubicacion invalida %q: %v", spec, err)
		}
		nums[i] = n
	}
	return signing.NewAnchor(nums[0], nums[1], nums[2])
}

func readCredential(in io.Reader, prompt io.Writer, mode signing.Mode) (string, error) {
	if v, ok := os.LookupEnv(credentialEnv); ok {
		return v, nil
	}
	fmt.Fprintf(prompt, "%s: ", signing.PromptFor(mode).Label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
