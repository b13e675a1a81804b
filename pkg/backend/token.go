//go:build cgo
// +build cgo

// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/ThalesGroup/crypto11"
	"github.com/miekg/pkcs11"

	"digital-signer/pkg/signing"
)

var configureToken = func(cfg *crypto11.Config) (tokenContext, error) {
	return crypto11.Configure(cfg)
}

// tokenContext is the part of *crypto11.Context used for signing.
type tokenContext interface {
	FindKeyPair(id []byte, label []byte) (crypto11.Signer, error)
	FindCertificate(id []byte, label []byte, serial *big.Int) (*x509.Certificate, error)
	FindAllPairedCertificates() ([]tls.Certificate, error)
	Close() error
}

// Unlock logs into the token with the PIN and locates the signing identity.
// The PKCS#11 context stays open until the returned key is closed.
func (s TokenSource) Unlock(pin string) (*Key, error) {
	if s.Library == "" {
		return nil, fmt.Errorf("PKCS11 library path not configured: %w", signing.ErrTokenUnavailable)
	}
	slot := s.Slot
	ctx, err := configureToken(&crypto11.Config{
		Path:       s.Library,
		SlotNumber: &slot,
		Pin:        pin,
	})
	if err != nil {
		log.Printf("[Token] Error abriendo token slot=%d: %v", s.Slot, err)
		return nil, mapTokenError(err)
	}

	key, err := findTokenIdentity(ctx, s.CertLabel)
	if err != nil {
		_ = ctx.Close()
		return nil, mapTokenError(err)
	}
	key.close = ctx.Close
	return key, nil
}

func findTokenIdentity(ctx tokenContext, label string) (*Key, error) {
	if label != "" {
		cert, err := ctx.FindCertificate(nil, []byte(label), nil)
		if err != nil {
			return nil, err
		}
		if cert == nil {
			return nil, fmt.Errorf("certificado %q no encontrado en el token", label)
		}
		signer, err := ctx.FindKeyPair(nil, []byte(label))
		if err != nil {
			return nil, err
		}
		if signer == nil {
			return nil, fmt.Errorf("clave privada %q no encontrada en el token", label)
		}
		return &Key{Signer: signer, Certificate: cert, Chains: [][]*x509.Certificate{{cert}}}, nil
	}

	pairs, err := ctx.FindAllPairedCertificates()
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		signer, ok := p.PrivateKey.(crypto.Signer)
		if !ok || len(p.Certificate) == 0 {
			continue
		}
		leaf := p.Leaf
		if leaf == nil {
			if leaf, err = x509.ParseCertificate(p.Certificate[0]); err != nil {
				continue
			}
		}
		if leaf.KeyUsage != 0 && leaf.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) == 0 {
			continue
		}
		return &Key{Signer: signer, Certificate: leaf, Chains: [][]*x509.Certificate{{leaf}}}, nil
	}
	return nil, errors.New("no hay certificados de firma en el token")
}

func mapTokenError(err error) error {
	var perr pkcs11.Error
	if errors.As(err, &perr) {
		switch perr {
		case pkcs11.CKR_PIN_INCORRECT, pkcs11.CKR_PIN_INVALID, pkcs11.CKR_PIN_LEN_RANGE,
			pkcs11.CKR_PIN_LOCKED, pkcs11.CKR_PIN_EXPIRED:
			return fmt.Errorf("%v: %w", err, signing.ErrCredentialRejected)
		case pkcs11.CKR_TOKEN_NOT_PRESENT, pkcs11.CKR_DEVICE_REMOVED, pkcs11.CKR_SLOT_ID_INVALID,
			pkcs11.CKR_TOKEN_NOT_RECOGNIZED, pkcs11.CKR_DEVICE_ERROR:
			return fmt.Errorf("%v: %w", err, signing.ErrTokenUnavailable)
		}
	}
	return mapTokenText(err)
}
