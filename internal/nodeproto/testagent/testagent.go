// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package testagent é um node agent mínimo e em memória usado apenas nos
// testes do worker e do scheduler: um fixture TCP local descartável por
// teste.
package testagent

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/nishisan-dev/backup-scheduler/internal/nodeproto"
)

// Agent serve um payload fixo para um path conhecido, respondendo SAME
// quando o checksum recebido já corresponde ao Checksum configurado.
type Agent struct {
	Listener net.Listener
	Payload  []byte
	Checksum string

	// FailBeforeReply faz a conexão ser fechada assim que o Request chega,
	// simulando uma falha transitória de I/O.
	FailBeforeReply bool
}

// Start sobe o agent em 127.0.0.1:0 (porta efêmera) e começa a aceitar
// uma conexão por chamada a Serve.
func Start(payload []byte, checksum string) (*Agent, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting test agent listener: %w", err)
	}
	return &Agent{Listener: ln, Payload: payload, Checksum: checksum}, nil
}

// Addr retorna host e porta do listener.
func (a *Agent) Addr() (string, int) {
	tcpAddr := a.Listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port
}

// Close encerra o listener.
func (a *Agent) Close() error {
	return a.Listener.Close()
}

// Serve aceita uma única conexão e executa o protocolo do node agent.
// Deve ser chamado em uma goroutine separada por teste que dispara o
// worker.
func (a *Agent) Serve() error {
	conn, err := a.Listener.Accept()
	if err != nil {
		return fmt.Errorf("accepting test agent connection: %w", err)
	}
	defer conn.Close()

	var req nodeproto.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}

	if a.FailBeforeReply {
		return nil // fecha a conexão sem responder — simula falha de I/O
	}

	if req.Checksum == a.Checksum {
		if _, err := conn.Write([]byte("SAME")); err != nil {
			return fmt.Errorf("writing SAME: %w", err)
		}
		return nil
	}

	if _, err := conn.Write([]byte(strconv.Itoa(len(a.Payload)))); err != nil {
		return fmt.Errorf("writing byte count: %w", err)
	}

	ackBuf := make([]byte, 2)
	if _, err := conn.Read(ackBuf); err != nil {
		return fmt.Errorf("reading OK ack before payload: %w", err)
	}

	if _, err := conn.Write(a.Payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}

	if _, err := conn.Read(ackBuf); err != nil {
		return fmt.Errorf("reading OK ack after payload: %w", err)
	}

	if _, err := conn.Write([]byte(a.Checksum)); err != nil {
		return fmt.Errorf("writing checksum: %w", err)
	}

	return nil
}
