// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"
)

var jsonc = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	nodeKeyPrefix    = "node:"
	taskKeyPrefix    = "task:"
	historyKeyPrefix = "history:"
)

func nodeKey(name string) string { return nodeKeyPrefix + name }
func taskKey(nodeName, path string) string {
	return fmt.Sprintf("%s%s\x00%s", taskKeyPrefix, nodeName, path)
}
func historyKey(nodeName, path string) string {
	return fmt.Sprintf("%s%s\x00%s", historyKeyPrefix, nodeName, path)
}

// BuntStore é a implementação de referência de Store sobre
// github.com/tidwall/buntdb: um banco embarcado, transacional e
// file-backed. Todas as mutações ocorrem dentro de db.Update, garantindo
// durabilidade antes do retorno, como o contrato de Store exige.
type BuntStore struct {
	db *buntdb.DB
}

// OpenBuntStore abre (criando se necessário) o arquivo de banco em path.
// path == ":memory:" cria um banco efêmero, útil em testes.
func OpenBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bunt store at %s: %w", path, err)
	}
	return &BuntStore{db: db}, nil
}

// Close fecha o banco subjacente.
func (s *BuntStore) Close() error {
	return s.db.Close()
}

func (s *BuntStore) AddNode(_ context.Context, n Node) error {
	data, err := jsonc.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling node %s: %w", n.Name, err)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(nodeKey(n.Name), string(data), nil)
		return err
	})
}

func (s *BuntStore) RemoveNode(_ context.Context, name string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(nodeKey(name)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		var staleKeys []string
		prefix := taskKeyPrefix + name + "\x00"
		tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			staleKeys = append(staleKeys, key)
			return true
		})
		histPrefix := historyKeyPrefix + name + "\x00"
		tx.AscendKeys(histPrefix+"*", func(key, _ string) bool {
			staleKeys = append(staleKeys, key)
			return true
		})
		for _, k := range staleKeys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

func (s *BuntStore) AddTask(_ context.Context, t TaskConfig) error {
	data, err := jsonc.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling task %s/%s: %w", t.NodeName, t.Path, err)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(taskKey(t.NodeName, t.Path), string(data), nil)
		return err
	})
}

func (s *BuntStore) RemoveTask(_ context.Context, nodeName, path string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(taskKey(nodeName, path)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		if _, err := tx.Delete(historyKey(nodeName, path)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

func (s *BuntStore) GetNodeNames(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(nodeKeyPrefix+"*", func(key, value string) bool {
			names = append(names, strings.TrimPrefix(key, nodeKeyPrefix))
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing node names: %w", err)
	}
	return names, nil
}

func (s *BuntStore) GetNodeAddress(_ context.Context, name string) (string, int, error) {
	var n Node
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(nodeKey(name))
		if err != nil {
			return err
		}
		return jsonc.Unmarshal([]byte(val), &n)
	})
	if err == buntdb.ErrNotFound {
		return "", 0, &ErrNotFound{Kind: "node", Key: name}
	}
	if err != nil {
		return "", 0, fmt.Errorf("reading node %s: %w", name, err)
	}
	return n.Host, n.Port, nil
}

func (s *BuntStore) GetTasksForNode(_ context.Context, name string) ([]TaskConfig, error) {
	var tasks []TaskConfig
	prefix := taskKeyPrefix + name + "\x00"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, value string) bool {
			var t TaskConfig
			if err := jsonc.Unmarshal([]byte(value), &t); err == nil {
				tasks = append(tasks, t)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks for node %s: %w", name, err)
	}
	return tasks, nil
}

// GetNodeFinishedTasks retorna o histórico newest-first. O histórico é
// persistido como um único array JSON por (node, path), com o item mais
// novo no índice 0 — RegisterFinishedTask faz o prepend.
func (s *BuntStore) GetNodeFinishedTasks(_ context.Context, nodeName, path string) ([]FinishedTask, error) {
	var finished []FinishedTask
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(historyKey(nodeName, path))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return jsonc.Unmarshal([]byte(val), &finished)
	})
	if err != nil {
		return nil, fmt.Errorf("reading history for %s/%s: %w", nodeName, path, err)
	}
	return finished, nil
}

func (s *BuntStore) RegisterFinishedTask(_ context.Context, nodeName, path string, ft FinishedTask) error {
	key := historyKey(nodeName, path)
	return s.db.Update(func(tx *buntdb.Tx) error {
		var finished []FinishedTask
		val, err := tx.Get(key)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		if err == nil {
			if jsonErr := jsonc.Unmarshal([]byte(val), &finished); jsonErr != nil {
				return jsonErr
			}
		}
		finished = append([]FinishedTask{ft}, finished...)
		data, err := jsonc.Marshal(finished)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(data), nil)
		return err
	})
}

func (s *BuntStore) ListNodes(_ context.Context) ([]Node, error) {
	var nodes []Node
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(nodeKeyPrefix+"*", func(_, value string) bool {
			var n Node
			if err := jsonc.Unmarshal([]byte(value), &n); err == nil {
				nodes = append(nodes, n)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, nil
}

func (s *BuntStore) ListTasks(_ context.Context) ([]TaskConfig, error) {
	var tasks []TaskConfig
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(taskKeyPrefix+"*", func(_, value string) bool {
			var t TaskConfig
			if err := jsonc.Unmarshal([]byte(value), &t); err == nil {
				tasks = append(tasks, t)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}
