// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hashutil calcula o digest estável de um artefato já gravado em
// disco. O scheduler nunca hasheia dados em trânsito — apenas o arquivo
// final, depois que o worker terminou de escrevê-lo.
package hashutil

import (
	"bufio"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/OneOfOne/xxhash"
)

// readBufSize é o tamanho do buffer usado para varrer o arquivo ao hashear.
const readBufSize = 256 * 1024

// Hasher produz um digest estável a partir dos bytes de um arquivo em disco.
type Hasher interface {
	HashFile(path string) (string, error)
}

// XXHasher é o Hasher padrão, baseado em xxhash64 (não criptográfico, mas
// suficiente para detectar mudança de conteúdo entre duas execuções).
type XXHasher struct{}

// NewXXHasher cria o Hasher padrão do scheduler.
func NewXXHasher() *XXHasher {
	return &XXHasher{}
}

// HashFile varre o arquivo em blocos de readBufSize e retorna o digest em
// hexadecimal minúsculo.
func (XXHasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	var h hash.Hash64 = xxhash.New64()
	buf := make([]byte, readBufSize)
	r := bufio.NewReaderSize(f, readBufSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return "", fmt.Errorf("reading %s for hashing: %w", path, readErr)
		}
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}
