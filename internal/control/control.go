// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package control implementa o canal de comandos do scheduler: um par de
// channels bufferizados por onde o front-end de controle conversa com o
// loop, e o adaptador que traduz (command, args) em mutações na
// persistência.
package control

import (
	"context"
	"fmt"

	"github.com/nishisan-dev/backup-scheduler/internal/store"
	"github.com/teris-io/shortid"
)

// Nomes de comando reconhecidos pelo adapter.
const (
	CmdAddNode    = "add_node"
	CmdRemoveNode = "remove_node"
	CmdListNodes  = "list_nodes"
	CmdAddTask    = "add_task"
	CmdRemoveTask = "remove_task"
	CmdListTasks  = "list_tasks"
	CmdHistory    = "history"
)

// Status de resposta de sucesso.
const (
	StatusOK = "OK"
)

// Request é o pedido que trafega pelo canal de comando: um nome de
// comando mais um mapa de argumentos livres.
type Request struct {
	ID      string
	Command string
	Args    map[string]any
}

// Reply é a resposta correspondente: (status, data). Status é "OK" em
// sucesso ou "Error {message}:" em falha — o dois-pontos final é
// preservado literalmente do formato que os consumidores já toleram.
type Reply struct {
	ID     string
	Status string
	Data   any
}

// Channel é o par request/reply compartilhado entre o front-end de
// controle (fora de escopo) e o loop do scheduler.
type Channel struct {
	Requests chan Request
	Replies  chan Reply
}

// NewChannel cria um canal de comando com a capacidade de buffer dada.
func NewChannel(buffer int) *Channel {
	return &Channel{
		Requests: make(chan Request, buffer),
		Replies:  make(chan Reply, buffer),
	}
}

// Close fecha o canal de replies, sinalizando ao front-end que o scheduler
// não vai mais responder.
func (c *Channel) Close() {
	close(c.Replies)
}

// generator minta IDs de correlação curtos para cada request, usados só
// para amarrar logs do loop à resposta equivalente — nunca para lógica de
// negócio.
var generator, _ = shortid.New(1, shortid.DefaultABC, 1)

// NewRequestID gera um ID de correlação curto para um novo Request.
func NewRequestID() string {
	id, err := generator.Generate()
	if err != nil {
		// shortid só falha por esgotamento do contador num mesmo
		// milissegundo; um ID vazio ainda é seguro para log.
		return ""
	}
	return id
}

// Adapter traduz comandos reconhecidos em operações sobre um Store.
// Não é responsável por framing de rede nem por decidir
// política de retry — só por mapear comando → mutação e reportar se a
// mutação pode ter invalidado a schedule view.
type Adapter struct {
	Store store.Store
}

// NewAdapter cria um Adapter sobre o Store dado.
func NewAdapter(s store.Store) *Adapter {
	return &Adapter{Store: s}
}

// Handle executa um Request e retorna (data, tasksChanged, err). O
// chamador (o loop do scheduler) é responsável por formatar err em
// "Error {message}:" antes de colocar na Reply — este método apenas
// retorna o erro puro do Go.
func (a *Adapter) Handle(ctx context.Context, req Request) (data any, tasksChanged bool, err error) {
	switch req.Command {
	case CmdAddNode:
		name, host, port, err := argsNode(req.Args)
		if err != nil {
			return nil, false, err
		}
		if err := a.Store.AddNode(ctx, store.Node{Name: name, Host: host, Port: port}); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case CmdRemoveNode:
		name, err := argString(req.Args, "name")
		if err != nil {
			return nil, false, err
		}
		if err := a.Store.RemoveNode(ctx, name); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case CmdListNodes:
		nodes, err := a.Store.ListNodes(ctx)
		if err != nil {
			return nil, false, err
		}
		return nodes, false, nil

	case CmdAddTask:
		task, err := argsTask(req.Args)
		if err != nil {
			return nil, false, err
		}
		if err := a.Store.AddTask(ctx, task); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case CmdRemoveTask:
		name, err := argString(req.Args, "node_name")
		if err != nil {
			return nil, false, err
		}
		path, err := argString(req.Args, "path")
		if err != nil {
			return nil, false, err
		}
		if err := a.Store.RemoveTask(ctx, name, path); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case CmdListTasks:
		name, err := argString(req.Args, "node_name")
		if err != nil {
			return nil, false, err
		}
		tasks, err := a.Store.GetTasksForNode(ctx, name)
		if err != nil {
			return nil, false, err
		}
		return tasks, false, nil

	case CmdHistory:
		name, err := argString(req.Args, "node_name")
		if err != nil {
			return nil, false, err
		}
		path, err := argString(req.Args, "path")
		if err != nil {
			return nil, false, err
		}
		history, err := a.Store.GetNodeFinishedTasks(ctx, name, path)
		if err != nil {
			return nil, false, err
		}
		return history, false, nil

	default:
		return nil, false, fmt.Errorf("unrecognized command %q", req.Command)
	}
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

func argInt(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be numeric, got %T", key, v)
	}
}

func argsNode(args map[string]any) (name, host string, port int, err error) {
	name, err = argString(args, "name")
	if err != nil {
		return "", "", 0, err
	}
	host, err = argString(args, "host")
	if err != nil {
		return "", "", 0, err
	}
	port, err = argInt(args, "port")
	if err != nil {
		return "", "", 0, err
	}
	return name, host, port, nil
}

func argsTask(args map[string]any) (store.TaskConfig, error) {
	name, err := argString(args, "node_name")
	if err != nil {
		return store.TaskConfig{}, err
	}
	path, err := argString(args, "path")
	if err != nil {
		return store.TaskConfig{}, err
	}
	freq, err := argInt(args, "frequency_minutes")
	if err != nil {
		return store.TaskConfig{}, err
	}
	return store.TaskConfig{NodeName: name, Path: path, FrequencyMinutes: freq}, nil
}
