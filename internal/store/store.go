// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package store define o contrato de persistência consumido pelo scheduler
// (configuração de nodes/tasks + histórico de backups) e fornece uma
// implementação de referência sobre buntdb. O scheduler nunca depende do
// tipo concreto — apenas da interface Store.
package store

import (
	"context"
	"time"
)

// Node identifica um node agent remoto pelo nome.
type Node struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TaskConfig é o par (node, path) com a frequência configurada em minutos.
type TaskConfig struct {
	NodeName         string `json:"node_name"`
	Path             string `json:"path"`
	FrequencyMinutes int    `json:"frequency_minutes"`
}

// FinishedTask é um registro imutável de uma execução bem-sucedida
// (CORRECT ou SAME) para um (node, path).
type FinishedTask struct {
	ResultPath string    `json:"result_path"`
	KBSize     float64   `json:"kb_size"`
	Timestamp  time.Time `json:"timestamp"`
	Checksum   string    `json:"checksum"`
}

// Store é o contrato consumido pelo scheduler engine. Cada mutação deve
// ser durável antes de retornar; cada consulta deve refletir um ponto no
// tempo consistente.
type Store interface {
	// GetNodeNames lista todos os nodes cadastrados.
	GetNodeNames(ctx context.Context) ([]string, error)

	// GetNodeAddress retorna host e porta de um node.
	GetNodeAddress(ctx context.Context, name string) (host string, port int, err error)

	// GetTasksForNode lista (path, frequency) cadastrados para um node.
	GetTasksForNode(ctx context.Context, name string) ([]TaskConfig, error)

	// GetNodeFinishedTasks retorna o histórico de um (node, path), do mais
	// recente para o mais antigo.
	GetNodeFinishedTasks(ctx context.Context, nodeName, path string) ([]FinishedTask, error)

	// RegisterFinishedTask insere um novo FinishedTask na frente do
	// histórico de um (node, path).
	RegisterFinishedTask(ctx context.Context, nodeName, path string, ft FinishedTask) error

	// AddNode cadastra (ou substitui) um node.
	AddNode(ctx context.Context, n Node) error

	// RemoveNode remove um node e todas as tasks associadas a ele.
	RemoveNode(ctx context.Context, name string) error

	// AddTask cadastra uma TaskConfig. É idempotente por (node, path).
	AddTask(ctx context.Context, t TaskConfig) error

	// RemoveTask remove uma TaskConfig existente.
	RemoveTask(ctx context.Context, nodeName, path string) error

	// ListNodes retorna todos os nodes cadastrados.
	ListNodes(ctx context.Context) ([]Node, error)

	// ListTasks retorna todas as TaskConfigs cadastradas.
	ListTasks(ctx context.Context) ([]TaskConfig, error)
}

// ErrNotFound é retornado quando um node ou task consultado não existe.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e *ErrNotFound) Error() string {
	return e.Kind + " not found: " + e.Key
}
