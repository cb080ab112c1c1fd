// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/nishisan-dev/backup-scheduler/internal/control"
	"github.com/nishisan-dev/backup-scheduler/internal/hashutil"
	"github.com/nishisan-dev/backup-scheduler/internal/store"
	"github.com/nishisan-dev/backup-scheduler/internal/worker"
)

// scenarioDispatcher é o dublê de Dispatcher usado pela suite BDD: assim
// como fakeDispatcher, materializa o sentinel configurado sem tocar rede.
type scenarioDispatcher struct {
	outcome string
	calls   int
}

func (d *scenarioDispatcher) Dispatch(ctx context.Context, p worker.Params) *RunningTask {
	d.calls++
	done := make(chan struct{})
	switch d.outcome {
	case worker.CorrectSuffix:
		os.WriteFile(p.WriteFilePath, []byte("snapshot"), 0o644)
		os.WriteFile(p.WriteFilePath+worker.CorrectSuffix, nil, 0o644)
	case worker.SameSuffix:
		os.WriteFile(p.WriteFilePath+worker.SameSuffix, nil, 0o644)
	}
	close(done)
	_, cancel := context.WithCancel(ctx)
	return &RunningTask{WriteFilePath: p.WriteFilePath, done: done, cancel: cancel}
}

var _ = Describe("Scheduler loop", func() {
	var (
		ctx   context.Context
		s     *store.MemoryStore
		dir   string
		sched *Scheduler
		disp  *scenarioDispatcher
	)

	newScheduler := func(outcome string) *Scheduler {
		disp = &scenarioDispatcher{outcome: outcome}
		return New(Config{
			BackupPath:   dir,
			MaxProcesses: 2,
			Store:        s,
			Channel:      control.NewChannel(4),
			Hasher:       hashutil.NewXXHasher(),
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
			Dispatcher:   disp,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		s = store.NewMemoryStore()

		tmp, err := os.MkdirTemp("", "scheduler-suite-*")
		Expect(err).NotTo(HaveOccurred())
		dir = tmp
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Context("a fresh task with no history", func() {
		BeforeEach(func() {
			Expect(s.AddNode(ctx, store.Node{Name: "n1", Host: "10.0.0.1", Port: 9000})).To(Succeed())
			Expect(s.AddTask(ctx, store.TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})).To(Succeed())
			sched = newScheduler("")
			Expect(sched.refresh(ctx)).To(Succeed())
		})

		It("is dispatched on the first loop iteration", func() {
			sched.dispatch(ctx)
			Expect(disp.calls).To(Equal(1))
			Expect(sched.running).To(HaveLen(1))
		})
	})

	Context("a worker that finishes CORRECT", func() {
		BeforeEach(func() {
			Expect(s.AddNode(ctx, store.Node{Name: "n1", Host: "h", Port: 1})).To(Succeed())
			Expect(s.AddTask(ctx, store.TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})).To(Succeed())
			sched = newScheduler(worker.CorrectSuffix)
			Expect(sched.refresh(ctx)).To(Succeed())
			sched.dispatch(ctx)
		})

		It("registers a new finished task and frees the running slot", func() {
			Expect(sched.reap(ctx)).To(Succeed())
			Expect(sched.running).To(BeEmpty())

			history, err := s.GetNodeFinishedTasks(ctx, "n1", "/etc")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].Checksum).NotTo(BeEmpty())
		})
	})

	Context("a worker that finishes SAME", func() {
		BeforeEach(func() {
			Expect(s.AddNode(ctx, store.Node{Name: "n1", Host: "h", Port: 1})).To(Succeed())
			Expect(s.AddTask(ctx, store.TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})).To(Succeed())
			Expect(s.RegisterFinishedTask(ctx, "n1", "/etc", store.FinishedTask{
				ResultPath: "/backups/previous",
				Checksum:   "prior-checksum",
			})).To(Succeed())
			sched = newScheduler(worker.SameSuffix)
			Expect(sched.refresh(ctx)).To(Succeed())
			sched.dispatch(ctx)
		})

		It("carries the previous result forward with a refreshed timestamp", func() {
			Expect(sched.reap(ctx)).To(Succeed())

			history, err := s.GetNodeFinishedTasks(ctx, "n1", "/etc")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ResultPath).To(Equal("/backups/previous"))
			Expect(history[0].Checksum).To(Equal("prior-checksum"))
		})
	})

	Context("a worker that fails before replying", func() {
		BeforeEach(func() {
			Expect(s.AddNode(ctx, store.Node{Name: "n1", Host: "h", Port: 1})).To(Succeed())
			Expect(s.AddTask(ctx, store.TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})).To(Succeed())
			sched = newScheduler("")
			Expect(sched.refresh(ctx)).To(Succeed())
			sched.dispatch(ctx)
		})

		It("leaves no history and frees the running slot", func() {
			Expect(sched.reap(ctx)).To(Succeed())
			Expect(sched.running).To(BeEmpty())

			history, err := s.GetNodeFinishedTasks(ctx, "n1", "/etc")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(BeEmpty())
		})
	})

	Context("five due tasks with max_processes=2", func() {
		BeforeEach(func() {
			for i := 0; i < 5; i++ {
				name := string(rune('a' + i))
				Expect(s.AddNode(ctx, store.Node{Name: name, Host: "h", Port: 1})).To(Succeed())
				Expect(s.AddTask(ctx, store.TaskConfig{NodeName: name, Path: "/etc", FrequencyMinutes: 5})).To(Succeed())
			}
			sched = newScheduler("")
			Expect(sched.refresh(ctx)).To(Succeed())
		})

		It("dispatches only up to the concurrency bound", func() {
			sched.dispatch(ctx)
			Expect(disp.calls).To(Equal(2))
			Expect(sched.queue.len()).To(Equal(3))
		})
	})

	Context("garbage collection after a successful reap", func() {
		BeforeEach(func() {
			Expect(s.AddNode(ctx, store.Node{Name: "n1", Host: "h", Port: 1})).To(Succeed())
			Expect(s.AddTask(ctx, store.TaskConfig{NodeName: "n1", Path: "/etc", FrequencyMinutes: 5})).To(Succeed())
			sched = newScheduler(worker.CorrectSuffix)
			Expect(sched.refresh(ctx)).To(Succeed())
		})

		It("removes orphaned artifacts while keeping tracked ones", func() {
			orphan := dir + "/backup_200_n1_Lw=="
			Expect(os.WriteFile(orphan, []byte("orphaned"), 0o644)).To(Succeed())

			sched.dispatch(ctx)
			tracked := sched.running[taskKey{NodeName: "n1", Path: "/etc"}].WriteFilePath

			Expect(sched.reap(ctx)).To(Succeed())

			_, err := os.Stat(orphan)
			Expect(os.IsNotExist(err)).To(BeTrue())
			_, err = os.Stat(tracked)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
