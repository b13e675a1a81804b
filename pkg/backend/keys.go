// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package backend

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"

	"digital-signer/pkg/signing"
)

// Key is an unlocked signing identity. Close releases any device session.
type Key struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	Chains      [][]*x509.Certificate
	close       func() error
}

func (k *Key) Close() error {
	if k == nil || k.close == nil {
		return nil
	}
	return k.close()
}

// KeySource unlocks a key with the password or PIN entered by the user.
type KeySource interface {
	Unlock(secret string) (*Key, error)
}

// PFXSource reads a password-protected PKCS#12 bundle from disk.
type PFXSource struct {
	Path string
}

func (s PFXSource) Unlock(password string) (*Key, error) {
	if s.Path == "" {
		return nil, errors.New("PFX not uploaded in Document Sign Setting.")
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("PFX file not found: %s", s.Path)
		}
		return nil, fmt.Errorf("no se pudo leer PFX: %w", err)
	}
	return parsePFX(raw, password)
}

func parsePFX(raw []byte, password string) (*Key, error) {
	blocks, err := pkcs12.ToPEM(raw, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("Password is wrong.: %w", signing.ErrCredentialRejected)
		}
		return nil, fmt.Errorf("PFX invalido: %w", err)
	}

	var (
		signer crypto.Signer
		certs  []*x509.Certificate
	)
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(b.Bytes)
			if err == nil {
				certs = append(certs, cert)
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if signer == nil {
				signer, err = parseSignerFromPEMBlock(b)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	if signer == nil {
		return nil, errors.New("Certificate or Private Key file not found on server.")
	}
	leaf := selectLeafForSigner(certs, signer)
	if leaf == nil {
		return nil, errors.New("no se encontró certificado para la clave privada del PFX")
	}
	return &Key{Signer: signer, Certificate: leaf, Chains: buildCertChains(leaf, certs)}, nil
}

// CertKeySource reads a PEM certificate (optionally followed by its
// issuers) and a PEM private key from separate files. An encrypted PKCS#8
// key is opened with the password; a plain key ignores it.
type CertKeySource struct {
	CertPath string
	KeyPath  string
}

func (s CertKeySource) Unlock(password string) (*Key, error) {
	if s.CertPath == "" || s.KeyPath == "" {
		return nil, errors.New("Private Key or Certificate not uploaded in Document Sign Setting.")
	}
	certPEM, err := os.ReadFile(s.CertPath)
	if err != nil {
		return nil, certKeyReadError(s.CertPath, err)
	}
	keyPEM, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, certKeyReadError(s.KeyPath, err)
	}
	return parseCertKey(certPEM, keyPEM, password)
}

func certKeyReadError(path string, err error) error {
	if os.IsNotExist(err) {
		return errors.New("Certificate or Private Key file not found on server.")
	}
	return fmt.Errorf("no se pudo leer %s: %w", path, err)
}

func parseCertKey(certPEM, keyPEM []byte, password string) (*Key, error) {
	var certs []*x509.Certificate
	for rest := certPEM; ; {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			break
		}
		if b.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificado invalido: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("el fichero de certificado no contiene ningun CERTIFICATE PEM")
	}

	var signer crypto.Signer
	for rest := keyPEM; signer == nil; {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			break
		}
		switch b.Type {
		case "ENCRYPTED PRIVATE KEY":
			s, err := decryptPKCS8(b.Bytes, password)
			if err != nil {
				return nil, err
			}
			signer = s
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			s, err := parseSignerFromPEMBlock(b)
			if err != nil {
				return nil, err
			}
			signer = s
		}
	}
	if signer == nil {
		return nil, errors.New("Certificate or Private Key file not found on server.")
	}

	leaf := selectLeafForSigner(certs, signer)
	if leaf == nil {
		return nil, errors.New("el certificado no corresponde a la clave privada")
	}
	return &Key{Signer: signer, Certificate: leaf, Chains: buildCertChains(leaf, certs)}, nil
}

func decryptPKCS8(der []byte, password string) (crypto.Signer, error) {
	keyAny, err := pkcs8.ParsePKCS8PrivateKey(der, []byte(password))
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "incorrect password") || strings.Contains(msg, "asn1: structure error") {
			return nil, fmt.Errorf("Password is wrong.: %w", signing.ErrCredentialRejected)
		}
		return nil, fmt.Errorf("clave PKCS#8 cifrada invalida: %w", err)
	}
	signer, ok := keyAny.(crypto.Signer)
	if !ok {
		return nil, errors.New("clave privada no soportada")
	}
	return signer, nil
}

func parseSignerFromPEMBlock(block *pem.Block) (crypto.Signer, error) {
	if keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if signer, ok := keyAny.(crypto.Signer); ok {
			return signer, nil
		}
	}
	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecKey, nil
	}
	return nil, errors.New("clave privada no soportada")
}

func selectLeafForSigner(certs []*x509.Certificate, signer crypto.Signer) *x509.Certificate {
	pub, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil
	}
	for _, c := range certs {
		certPub, err := x509.MarshalPKIXPublicKey(c.PublicKey)
		if err == nil && bytes.Equal(pub, certPub) {
			return c
		}
	}
	return nil
}

// buildCertChains returns leaf followed by whatever issuers the bundle
// carries; an unverifiable chain still yields the leaf alone.
func buildCertChains(leaf *x509.Certificate, certs []*x509.Certificate) [][]*x509.Certificate {
	inter := x509.NewCertPool()
	for _, c := range certs {
		if !c.Equal(leaf) {
			inter.AddCert(c)
		}
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Intermediates: inter,
		Roots:         inter,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil || len(chains) == 0 {
		return [][]*x509.Certificate{{leaf}}
	}
	return chains
}
