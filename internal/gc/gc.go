// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gc implementa o coletor de artefatos do diretório de backup:
// qualquer arquivo cujo prefixo (tudo antes do primeiro ".") não
// corresponda a um artefato rastreado ou a uma execução viva é removido.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// Clean varre backupPath (não recursivamente — é um diretório plano) e
// remove toda entrada cujo prefixo não esteja em valid. valid contém
// caminhos absolutos completos (backupPath + "/" + prefixo), não apenas
// os prefixos nus.
func Clean(backupPath string, valid map[string]struct{}) (deleted []string, err error) {
	entries, err := godirwalk.ReadDirents(backupPath, nil)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory %s: %w", backupPath, err)
	}

	for _, e := range entries {
		name := e.Name()
		prefix := filepath.Join(backupPath, firstSegment(name))
		if _, ok := valid[prefix]; ok {
			continue
		}
		full := filepath.Join(backupPath, name)
		if rmErr := os.Remove(full); rmErr != nil {
			return deleted, fmt.Errorf("deleting orphaned artifact %s: %w", full, rmErr)
		}
		deleted = append(deleted, full)
	}

	return deleted, nil
}

// firstSegment retorna o texto antes do primeiro "." no nome de arquivo,
// que é o prefixo compartilhado por um artefato e seus sentinels.
func firstSegment(name string) string {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}
