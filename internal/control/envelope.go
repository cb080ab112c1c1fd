// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package control

import (
	jsoniter "github.com/json-iterator/go"
)

var envelopeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope é a forma serializada de um Request/Reply quando o canal de
// comando atravessa um socket em vez de ficar em memória no mesmo
// processo (o front-end de controle opcional em cmd/backup-scheduler).
// O core do scheduler nunca serializa nada — ele só enxerga Request e
// Reply; Envelope existe exclusivamente para esse transporte.
type Envelope struct {
	ID      string         `json:"id"`
	Command string         `json:"command,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Status  string         `json:"status,omitempty"`
	Data    any            `json:"data,omitempty"`

	// Token é o bearer token opcional verificado pelo front-end de socket
	// antes do Request entrar no canal de comando. Nunca chega ao loop do
	// scheduler.
	Token string `json:"token,omitempty"`
}

// EncodeRequest serializa um Request de comando para transporte.
func EncodeRequest(req Request) ([]byte, error) {
	return envelopeJSON.Marshal(Envelope{ID: req.ID, Command: req.Command, Args: req.Args})
}

// DecodeEnvelope desserializa um Envelope cru recebido pelo transporte,
// preservando o Token para quem precisa verificá-lo.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := envelopeJSON.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// AsRequest converte um Envelope recebido em um Request interno. Gera um
// ID novo quando o remetente não enviou um.
func (e Envelope) AsRequest() Request {
	id := e.ID
	if id == "" {
		id = NewRequestID()
	}
	return Request{ID: id, Command: e.Command, Args: e.Args}
}

// DecodeRequest desserializa um Envelope recebido pelo transporte em um
// Request interno, descartando o token.
func DecodeRequest(data []byte) (Request, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return Request{}, err
	}
	return env.AsRequest(), nil
}

// EncodeReply serializa uma Reply para o transporte.
func EncodeReply(rep Reply) ([]byte, error) {
	return envelopeJSON.Marshal(Envelope{ID: rep.ID, Status: rep.Status, Data: rep.Data})
}

// DecodeReply desserializa um Envelope de resposta recebido pelo
// transporte.
func DecodeReply(data []byte) (Reply, error) {
	var env Envelope
	if err := envelopeJSON.Unmarshal(data, &env); err != nil {
		return Reply{}, err
	}
	return Reply{ID: env.ID, Status: env.Status, Data: env.Data}, nil
}
