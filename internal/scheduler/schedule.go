// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/backup-scheduler/internal/store"
)

// maxFinishedTasksToStore é o número de FinishedTasks por (node, path)
// cujos artefatos ficam protegidos do GC.
const maxFinishedTasksToStore = 10

// safeBase64 codifica text em Base64 seguro para nome de arquivo: "-" no
// lugar de "+" e "_" no lugar de "/" (RFC 3548 §4), sem remover o padding.
func safeBase64(text string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	out := make([]byte, len(encoded))
	for i := 0; i < len(encoded); i++ {
		switch encoded[i] {
		case '+':
			out[i] = '-'
		case '/':
			out[i] = '_'
		default:
			out[i] = encoded[i]
		}
	}
	return string(out)
}

// writeFilePath monta o nome do artefato:
// "{backup_path}/backup_{epoch_utc}_{node_name}_{safeBase64(node_path)}".
// O epoch é truncado para segundos inteiros, sem ".", porque o GC corta o
// nome no primeiro "." para achar o prefixo. Dois dispatches do mesmo
// (node, path) no mesmo segundo recebem o mesmo nome.
func writeFilePath(backupPath string, now time.Time, nodeName, nodePath string) string {
	name := fmt.Sprintf("backup_%d_%s_%s", now.UTC().Unix(), nodeName, safeBase64(nodePath))
	return filepath.Join(backupPath, name)
}

// rebuildSchedule monta a view inteira do zero: para cada node
// cadastrado, para cada (path, frequency) associado, busca o FinishedTask
// mais recente e monta a ScheduledTask correspondente. Reconstruir tudo a
// cada mutação é barato nesta escala.
func rebuildSchedule(ctx context.Context, s store.Store) (map[taskKey]ScheduledTask, error) {
	names, err := s.GetNodeNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes for schedule rebuild: %w", err)
	}

	view := make(map[taskKey]ScheduledTask)
	for _, name := range names {
		host, port, err := s.GetNodeAddress(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolving address for node %s: %w", name, err)
		}

		tasks, err := s.GetTasksForNode(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("listing tasks for node %s: %w", name, err)
		}

		for _, t := range tasks {
			history, err := s.GetNodeFinishedTasks(ctx, name, t.Path)
			if err != nil {
				return nil, fmt.Errorf("loading history for %s:%s: %w", name, t.Path, err)
			}

			st := ScheduledTask{
				NodeName:         name,
				Address:          host,
				Port:             port,
				Path:             t.Path,
				FrequencyMinutes: t.FrequencyMinutes,
			}
			if len(history) > 0 {
				ts := history[0].Timestamp
				st.LastBackupTime = &ts
				st.LastChecksum = history[0].Checksum
			}
			view[st.key()] = st
		}
	}

	return view, nil
}

// validPrefixes calcula o conjunto de prefixos que o GC preserva: o
// result_path das até maxFinishedTasksToStore FinishedTasks mais recentes de cada
// (node, path) cadastrado, mais o write_file_path de cada RunningTask
// viva no instante da chamada.
func validPrefixes(ctx context.Context, s store.Store, running map[taskKey]*RunningTask) (map[string]struct{}, error) {
	valid := make(map[string]struct{})

	names, err := s.GetNodeNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes for GC: %w", err)
	}
	for _, name := range names {
		tasks, err := s.GetTasksForNode(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("listing tasks for node %s for GC: %w", name, err)
		}
		for _, t := range tasks {
			history, err := s.GetNodeFinishedTasks(ctx, name, t.Path)
			if err != nil {
				return nil, fmt.Errorf("loading history for %s:%s for GC: %w", name, t.Path, err)
			}
			limit := len(history)
			if limit > maxFinishedTasksToStore {
				limit = maxFinishedTasksToStore
			}
			for _, ft := range history[:limit] {
				valid[ft.ResultPath] = struct{}{}
			}
		}
	}

	for _, rt := range running {
		valid[rt.WriteFilePath] = struct{}{}
	}

	return valid, nil
}
