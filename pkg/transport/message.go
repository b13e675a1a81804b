// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MessageType is the only message kind carried from a rendering surface.
const MessageType = "signature_location"

const schemaURL = "https://digital-signer.local/schemas/signature-location.json"

const messageSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "page", "x", "y"],
  "additionalProperties": false,
  "properties": {
    "type": {"const": "signature_location"},
    "page": {"type": "integer", "minimum": 1},
    "x": {"type": "integer"},
    "y": {"type": "integer"}
  }
}`

// Message is one captured anchor in document coordinate space.
type Message struct {
	Type string `json:"type"`
	Page int    `json:"page"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

func NewMessage(page, x, y int) Message {
	return Message{Type: MessageType, Page: page, X: x, Y: y}
}

func (m Message) Validate() error {
	if m.Type != MessageType {
		return fmt.Errorf("tipo de mensaje no soportado: %q", m.Type)
	}
	if m.Page < 1 {
		return fmt.Errorf("pagina invalida: %d", m.Page)
	}
	return nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(messageSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Decode parses a raw message coming from another execution context and
// checks it against the message schema before it is trusted.
func Decode(raw []byte) (Message, error) {
	s, err := compiledSchema()
	if err != nil {
		return Message{}, err
	}

	var instance interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return Message{}, fmt.Errorf("json invalido: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return Message{}, fmt.Errorf("mensaje %s rechazado: %w", MessageType, err)
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("json invalido: %w", err)
	}
	return m, nil
}
