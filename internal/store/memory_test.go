// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_NodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.AddNode(ctx, Node{Name: "n1", Host: "127.0.0.1", Port: 1234}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	host, port, err := s.GetNodeAddress(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNodeAddress: %v", err)
	}
	if host != "127.0.0.1" || port != 1234 {
		t.Errorf("unexpected address %s:%d", host, port)
	}

	names, err := s.GetNodeNames(ctx)
	if err != nil || len(names) != 1 || names[0] != "n1" {
		t.Errorf("unexpected names %v (err %v)", names, err)
	}

	if err := s.RemoveNode(ctx, "n1"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if _, _, err := s.GetNodeAddress(ctx, "n1"); err == nil {
		t.Error("expected error looking up a removed node")
	}
}

func TestMemoryStore_RemoveNodeCascadesTasks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.AddNode(ctx, Node{Name: "n1", Host: "h", Port: 1})
	s.AddTask(ctx, TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})
	s.RegisterFinishedTask(ctx, "n1", "/etc", FinishedTask{ResultPath: "p", Timestamp: time.Now()})

	if err := s.RemoveNode(ctx, "n1"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}

	tasks, _ := s.GetTasksForNode(ctx, "n1")
	if len(tasks) != 0 {
		t.Errorf("expected tasks to be cascaded away, got %v", tasks)
	}
	history, _ := s.GetNodeFinishedTasks(ctx, "n1", "/etc")
	if len(history) != 0 {
		t.Errorf("expected history to be cascaded away, got %v", history)
	}
}

func TestMemoryStore_RegisterFinishedTaskPrependsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := FinishedTask{ResultPath: "a", Timestamp: time.Now()}
	second := FinishedTask{ResultPath: "b", Timestamp: time.Now().Add(time.Minute)}

	s.RegisterFinishedTask(ctx, "n1", "/etc", first)
	s.RegisterFinishedTask(ctx, "n1", "/etc", second)

	history, err := s.GetNodeFinishedTasks(ctx, "n1", "/etc")
	if err != nil {
		t.Fatalf("GetNodeFinishedTasks: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].ResultPath != "b" || history[1].ResultPath != "a" {
		t.Errorf("expected newest-first order, got %+v", history)
	}
}

func TestMemoryStore_RemoveTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddTask(ctx, TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})
	s.RemoveTask(ctx, "n1", "/etc")

	tasks, _ := s.GetTasksForNode(ctx, "n1")
	if len(tasks) != 0 {
		t.Errorf("expected task to be removed, got %v", tasks)
	}
}

func TestMemoryStore_ListNodesAndTasks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddNode(ctx, Node{Name: "n1", Host: "h1", Port: 1})
	s.AddNode(ctx, Node{Name: "n2", Host: "h2", Port: 2})
	s.AddTask(ctx, TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})
	s.AddTask(ctx, TaskConfig{NodeName: "n2", Path: "/var", FrequencyMinutes: 10})

	nodes, err := s.ListNodes(ctx)
	if err != nil || len(nodes) != 2 {
		t.Errorf("expected 2 nodes, got %v (err %v)", nodes, err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil || len(tasks) != 2 {
		t.Errorf("expected 2 tasks, got %v (err %v)", tasks, err)
	}
}

func TestMemoryStore_GetNodeFinishedTasksUnknownIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	history, err := s.GetNodeFinishedTasks(ctx, "missing", "/nowhere")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %v", history)
	}
}
