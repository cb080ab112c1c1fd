// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package nodeproto implementa o protocolo de fio entre o worker e o
// node agent remoto: um pedido JSON sem framing, seguido por um
// handshake textual simples (SAME ou contagem de bytes) e o payload cru.
// Não há TLS, compressão ou retomada — o node agent decide o formato do
// payload (tipicamente um arquivo compactado); o scheduler apenas copia
// bytes.
package nodeproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// replyHeaderBufSize é o tamanho máximo do primeiro read da resposta do
// node agent — grande o bastante para "SAME" ou a contagem decimal de
// bytes do payload.
const replyHeaderBufSize = 1024

// socketChunkSize é o tamanho máximo de cada leitura do payload.
const socketChunkSize = 4096

// sameLiteral é a resposta literal do node agent quando o checksum
// enviado já corresponde ao estado atual do path.
const sameLiteral = "SAME"

// okLiteral é o ack enviado pelo worker em dois pontos do protocolo.
const okLiteral = "OK"

// Request é o pedido único enviado pelo worker ao conectar.
type Request struct {
	Checksum string `json:"checksum"`
	Path     string `json:"path"`
}

// SendRequest escreve o pedido JSON inicial, sem framing adicional.
func SendRequest(conn net.Conn, checksum, path string) error {
	data, err := json.Marshal(Request{Checksum: checksum, Path: path})
	if err != nil {
		return fmt.Errorf("marshaling node request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("writing node request: %w", err)
	}
	return nil
}

// ReadReplyHeader lê a primeira resposta do node agent: ou o literal
// "SAME", ou a contagem decimal ASCII de bytes do payload que segue.
// same é true quando a resposta foi "SAME"; nesse caso fileSize é 0 e o
// caller não deve ler payload algum.
func ReadReplyHeader(conn net.Conn) (same bool, fileSize int64, err error) {
	buf := make([]byte, replyHeaderBufSize)
	n, err := conn.Read(buf)
	if err != nil {
		return false, 0, fmt.Errorf("reading node reply header: %w", err)
	}
	text := string(bytes.TrimSpace(buf[:n]))
	if text == sameLiteral {
		return true, 0, nil
	}
	size, convErr := strconv.ParseInt(text, 10, 64)
	if convErr != nil {
		return false, 0, fmt.Errorf("node reply header %q is neither SAME nor a byte count: %w", text, convErr)
	}
	return false, size, nil
}

// SendOK envia o ack textual "OK" usado em dois pontos do protocolo.
func SendOK(conn net.Conn) error {
	if _, err := conn.Write([]byte(okLiteral)); err != nil {
		return fmt.Errorf("writing OK ack: %w", err)
	}
	return nil
}

// ReceivePayload copia exatamente fileSize bytes do socket para w, em
// blocos de até socketChunkSize bytes.
func ReceivePayload(conn net.Conn, w io.Writer, fileSize int64) error {
	remaining := fileSize
	buf := make([]byte, socketChunkSize)
	for remaining > 0 {
		toRead := int64(len(buf))
		if remaining < toRead {
			toRead = remaining
		}
		n, err := conn.Read(buf[:toRead])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing payload chunk: %w", werr)
			}
			remaining -= int64(n)
		}
		if err != nil {
			if remaining > 0 {
				return fmt.Errorf("reading payload: %w", err)
			}
			break
		}
	}
	return nil
}

// ReadChecksum lê a resposta final de checksum do node agent, tolerando
// whitespace à direita.
func ReadChecksum(conn net.Conn) (string, error) {
	buf := make([]byte, socketChunkSize)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("reading checksum trailer: %w", err)
	}
	return string(bytes.TrimSpace(buf[:n])), nil
}

// Dial conecta ao node agent com um timeout fixo, evitando handlers presos
// para sempre num node que nunca responde ao handshake TCP.
func Dial(address string, port int, timeout time.Duration) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", address, port)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to node agent %s: %w", addr, err)
	}
	return conn, nil
}
